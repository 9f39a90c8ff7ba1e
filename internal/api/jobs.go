package api

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusComplete   = "complete"

	FileStatusPending    = "pending"
	FileStatusProcessing = "processing"
	FileStatusComplete   = "complete"
	FileStatusError      = "error"
)

// maxFinishedJobs bounds how many completed jobs stay pollable.
const maxFinishedJobs = 100

// FileResult is the outcome of turning one uploaded file into deck cards.
type FileResult struct {
	DocumentID int64  `json:"document_id,omitempty"`
	Name       string `json:"name"`
	Pages      int    `json:"pages"`
	WordCount  int    `json:"word_count"`
	Cards      int    `json:"cards"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

// DeckJob tracks an asynchronous upload that extracts text from each file
// and generates flashcards for it.
type DeckJob struct {
	ID        string         `json:"job_id"`
	Status    string         `json:"status"`
	Count     int            `json:"count"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Files     []FileProgress `json:"files"`
}

// FileProgress is the per-file state clients poll.
type FileProgress struct {
	Index   int         `json:"index"`
	Name    string      `json:"name"`
	Status  string      `json:"status"`
	Step    string      `json:"step,omitempty"`
	Message string      `json:"message,omitempty"`
	Percent int         `json:"percent"`
	Result  *FileResult `json:"result,omitempty"`
}

type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*DeckJob
	now  func() time.Time
}

func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*DeckJob),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *JobManager) CreateJob(fileNames []string, count int) *DeckJob {
	files := make([]FileProgress, len(fileNames))
	for i, name := range fileNames {
		files[i] = FileProgress{Index: i, Name: name, Status: FileStatusPending}
	}
	now := m.now()
	job := &DeckJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Count:     count,
		CreatedAt: now,
		UpdatedAt: now,
		Files:     files,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.pruneLocked()
	m.mu.Unlock()

	return job.clone()
}

func (m *JobManager) GetJob(id string) (*DeckJob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

func (m *JobManager) MarkProcessing(id string) {
	m.withJob(id, func(job *DeckJob) {
		job.Status = JobStatusProcessing
	})
}

func (m *JobManager) MarkCompleted(id string) {
	m.withJob(id, func(job *DeckJob) {
		job.Status = JobStatusComplete
	})
}

func (m *JobManager) UpdateFileProgress(id string, index int, step, message string, current, total int) {
	m.withJob(id, func(job *DeckJob) {
		if file := job.file(index); file != nil {
			file.Status = FileStatusProcessing
			file.Step = step
			file.Message = message
			file.Percent = percent(current, total)
		}
	})
}

func (m *JobManager) MarkFileComplete(id string, index int, result FileResult) {
	m.withJob(id, func(job *DeckJob) {
		if file := job.file(index); file != nil {
			result.Status = FileStatusComplete
			file.Status = FileStatusComplete
			file.Step = "complete"
			file.Message = "Processing complete"
			file.Percent = 100
			file.Result = &result
		}
	})
}

func (m *JobManager) MarkFileError(id string, index int, message string, result FileResult) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = "processing error"
	}
	m.withJob(id, func(job *DeckJob) {
		if file := job.file(index); file != nil {
			result.Status = FileStatusError
			if result.Message == "" {
				result.Message = msg
			}
			file.Status = FileStatusError
			file.Step = "error"
			file.Message = msg
			file.Percent = 100
			file.Result = &result
		}
	})
}

func (m *JobManager) withJob(id string, fn func(job *DeckJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = m.now()
}

// pruneLocked drops the oldest finished jobs beyond maxFinishedJobs.
func (m *JobManager) pruneLocked() {
	var finished []*DeckJob
	for _, job := range m.jobs {
		if job.Status == JobStatusComplete {
			finished = append(finished, job)
		}
	}
	if len(finished) <= maxFinishedJobs {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].UpdatedAt.Before(finished[j].UpdatedAt)
	})
	for _, job := range finished[:len(finished)-maxFinishedJobs] {
		delete(m.jobs, job.ID)
	}
}

func (job *DeckJob) file(index int) *FileProgress {
	if index < 0 || index >= len(job.Files) {
		return nil
	}
	return &job.Files[index]
}

func (job *DeckJob) clone() *DeckJob {
	copyJob := *job
	copyJob.Files = make([]FileProgress, len(job.Files))
	for i, file := range job.Files {
		copyJob.Files[i] = file
		if file.Result != nil {
			res := *file.Result
			copyJob.Files[i].Result = &res
		}
	}
	return &copyJob
}

func percent(current, total int) int {
	if total <= 0 || current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	return current * 100 / total
}
