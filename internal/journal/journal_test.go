package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RecordAndRecent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	started := time.UnixMilli(time.Now().UnixMilli())
	for i := range 3 {
		require.NoError(t, s.Record(context.Background(), Run{
			ID:            fmt.Sprintf("run-%d", i),
			Project:       "/p/app.yaml",
			Configuration: "Debug",
			Status:        "succeeded",
			Started:       started.Add(time.Duration(i) * time.Second),
			Duration:      1500 * time.Millisecond,
			Paths:         []string{"/out/GenA/X.g.go"},
			Written:       1,
		}))
	}
	require.NoError(t, s.Record(context.Background(), Run{
		ID: "run-failed", Project: "/p/app.yaml", Configuration: "Debug",
		Status: "failed", Started: started, Error: "Generation failed for GenA. boom",
	}))

	runs, err := s.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-failed", runs[0].ID)
	assert.Equal(t, "Generation failed for GenA. boom", runs[0].Error)
	assert.Empty(t, runs[0].Paths)

	assert.Equal(t, "run-2", runs[1].ID)
	assert.Equal(t, []string{"/out/GenA/X.g.go"}, runs[1].Paths)
	assert.Equal(t, 1500*time.Millisecond, runs[1].Duration)
	assert.True(t, started.Add(2*time.Second).Equal(runs[1].Started))

	none, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_DuplicateRunID(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	r := Run{ID: "same", Project: "p", Configuration: "Debug", Status: "succeeded", Started: time.Now()}
	require.NoError(t, s.Record(context.Background(), r))
	require.Error(t, s.Record(context.Background(), r))
}

func TestStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), Run{ID: "a", Project: "p", Configuration: "c", Status: "succeeded", Started: time.Now()}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	runs, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0].ID)
}
