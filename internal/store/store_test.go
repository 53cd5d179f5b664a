package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autodev/internal/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(startedAt time.Time) *types.Run {
	finished := startedAt.Add(5 * time.Minute)
	return &types.Run{
		ID:         uuid.NewString(),
		StartedAt:  startedAt,
		FinishedAt: &finished,
		Status:     types.StatusCompleted,
		Branch:     "autodev/run-x",
		PRURL:      "https://example.com/pr/1",
		Summary:    "did things",
		Findings: []types.ResearchFinding{
			{Category: "security", Query: "q", Findings: "f", Actionable: true, Agent: "researcher-security"},
		},
		Improvements: []types.Improvement{
			{FilePath: "src/app.ts", Category: "security", Description: "sanitize input", Applied: true},
		},
		AgentTasks: []types.AgentTask{
			{ID: uuid.NewString(), Role: types.RoleCoder, Model: "expensive", Status: types.AgentTaskCompleted, CompletedAt: finished, Description: "coded"},
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := openStore(t)
	run := sampleRun(time.Now().UTC())

	require.NoError(t, s.SaveRun(run, 10))

	loaded, err := s.GetRun(run.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, run.ID, loaded.ID)
	assert.Equal(t, types.StatusCompleted, loaded.Status)
	assert.Equal(t, run.PRURL, loaded.PRURL)
	if diff := cmp.Diff(run.Findings, loaded.Findings); diff != "" {
		t.Errorf("findings mismatch (-saved +loaded):\n%s", diff)
	}
	if diff := cmp.Diff(run.Improvements, loaded.Improvements); diff != "" {
		t.Errorf("improvements mismatch (-saved +loaded):\n%s", diff)
	}
	require.Len(t, loaded.AgentTasks, 1)
	assert.Equal(t, types.RoleCoder, loaded.AgentTasks[0].Role)
}

func TestGetRunMissing(t *testing.T) {
	s := openStore(t)
	run, err := s.GetRun("nope")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveRun(sampleRun(base.Add(time.Duration(i)*time.Minute)), 10))
	}

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt))
	assert.True(t, runs[1].StartedAt.After(runs[2].StartedAt))
}

func TestPruneOldestFirst(t *testing.T) {
	s := openStore(t)
	base := time.Now().UTC().Add(-time.Hour)

	var ids []string
	for i := 0; i < 5; i++ {
		run := sampleRun(base.Add(time.Duration(i) * time.Minute))
		ids = append(ids, run.ID)
		require.NoError(t, s.SaveRun(run, 3))
	}

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	// The two oldest runs are gone, tasks included.
	for _, id := range ids[:2] {
		run, err := s.GetRun(id)
		require.NoError(t, err)
		assert.Nil(t, run, fmt.Sprintf("run %s should be pruned", id))
	}
}

func TestCountRunsSince(t *testing.T) {
	s := openStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.SaveRun(sampleRun(now.Add(-48*time.Hour)), 10))
	require.NoError(t, s.SaveRun(sampleRun(now.Add(-time.Minute)), 10))
	require.NoError(t, s.SaveRun(sampleRun(now), 10))

	count, err := s.CountRunsSince(now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
