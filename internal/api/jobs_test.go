package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLifecycle(t *testing.T) {
	m := NewJobManager()
	job := m.CreateJob([]string{"a.pdf", "b.txt"}, 5)
	assert.Equal(t, JobStatusPending, job.Status)
	require.Len(t, job.Files, 2)

	m.MarkProcessing(job.ID)
	m.UpdateFileProgress(job.ID, 0, "extract", "Extracting text", 10, 100)

	got, ok := m.GetJob(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobStatusProcessing, got.Status)
	assert.Equal(t, 10, got.Files[0].Percent)
	assert.Equal(t, FileStatusPending, got.Files[1].Status)

	m.MarkFileComplete(job.ID, 0, FileResult{Name: "a.pdf", DocumentID: 1, Cards: 5})
	m.MarkFileError(job.ID, 1, "  ", FileResult{Name: "b.txt"})
	m.MarkCompleted(job.ID)

	got, _ = m.GetJob(job.ID)
	assert.Equal(t, JobStatusComplete, got.Status)
	assert.Equal(t, FileStatusComplete, got.Files[0].Result.Status)
	assert.Equal(t, "processing error", got.Files[1].Message)
	assert.Equal(t, FileStatusError, got.Files[1].Result.Status)

	// snapshots are independent of later updates
	got.Files[0].Result.Cards = 99
	again, _ := m.GetJob(job.ID)
	assert.Equal(t, 5, again.Files[0].Result.Cards)
}

func TestUnknownJobIsIgnored(t *testing.T) {
	m := NewJobManager()
	m.MarkProcessing("nope")
	_, ok := m.GetJob("nope")
	assert.False(t, ok)
}

func TestFinishedJobsArePruned(t *testing.T) {
	m := NewJobManager()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first := m.CreateJob([]string{"x"}, 1)
	m.MarkCompleted(first.ID)
	for i := 0; i < maxFinishedJobs; i++ {
		job := m.CreateJob([]string{"x"}, 1)
		m.MarkCompleted(job.ID)
	}
	running := m.CreateJob([]string{"y"}, 1)

	_, ok := m.GetJob(first.ID)
	assert.False(t, ok)
	_, ok = m.GetJob(running.ID)
	assert.True(t, ok)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, percent(0, 100))
	assert.Equal(t, 0, percent(5, 0))
	assert.Equal(t, 45, percent(45, 100))
	assert.Equal(t, 50, percent(1, 2))
	assert.Equal(t, 100, percent(120, 100))
}
