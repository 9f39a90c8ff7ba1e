package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMigratesTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cards.db")

	conn, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	conn, err = Open(path)
	require.NoError(t, err)
	defer conn.Close()

	var tables int
	err = conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'
		AND name IN ('documents', 'cards', 'review_logs', 'quizzes', 'quiz_questions')`).Scan(&tables)
	require.NoError(t, err)
	assert.Equal(t, 5, tables)
}

func TestForeignKeysEnabled(t *testing.T) {
	conn, err := Open(filepath.Join(t.TempDir(), "fk.db"))
	require.NoError(t, err)
	defer conn.Close()

	var enabled int
	require.NoError(t, conn.QueryRow(`PRAGMA foreign_keys;`).Scan(&enabled))
	assert.Equal(t, 1, enabled)
}
