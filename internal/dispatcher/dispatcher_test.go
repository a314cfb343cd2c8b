package dispatcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/steward/internal/events"
	"github.com/mattjoyce/steward/internal/fencing"
	"github.com/mattjoyce/steward/internal/jobgraph"
	"github.com/mattjoyce/steward/internal/jobgraph/mocks"
	"github.com/mattjoyce/steward/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

func startDispatcher(t *testing.T, recovered ...*jobgraph.JobGraph) (*Dispatcher, *jobgraph.MemoryStore, *events.Hub) {
	t.Helper()
	store := jobgraph.NewMemoryStore()
	w, err := store.WriterFor(context.Background(), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	hub := events.NewHub(16)
	d := New(fencing.NewMinter().Next(), w, Options{Hub: hub})
	require.NoError(t, d.Start(context.Background(), recovered))
	return d, store, hub
}

func TestDispatcherRegistersRecoveredJobs(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	j1 := jobgraph.NewWithID("job1", "a", []byte("p1"), base)
	j2 := jobgraph.NewWithID("job2", "b", []byte("p2"), base.Add(time.Second))
	d, store, _ := startDispatcher(t, j2, j1)

	jobs, err := d.ListJobs(context.Background(), d.FencingToken())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job1", jobs[0].JobID)
	assert.True(t, jobs[0].Recovered)
	assert.Equal(t, StatusRunning, jobs[1].Status)

	// Recovered graphs are not written again.
	persisted, err := store.RecoverJobGraphs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestDispatcherSubmitPersistsAndPublishes(t *testing.T) {
	d, store, hub := startDispatcher(t)
	ctx := context.Background()

	g := jobgraph.New("wordcount", []byte(`{"ops":1}`))
	require.NoError(t, d.SubmitJob(ctx, d.FencingToken(), g))
	assert.ErrorIs(t, d.SubmitJob(ctx, d.FencingToken(), g), ErrDuplicateJob)

	persisted, err := store.RecoverJobGraphs(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, g.JobID, persisted[0].JobID)

	st, err := d.RequestJobStatus(ctx, d.FencingToken(), g.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st.Status)
	assert.False(t, st.Recovered)

	snap := hub.SnapshotSince(0)
	require.Len(t, snap, 1)
	assert.Equal(t, events.JobSubmitted, snap[0].Type)
}

func TestDispatcherRejectsStaleToken(t *testing.T) {
	d, _, _ := startDispatcher(t)
	ctx := context.Background()
	stale := fencing.NewMinter().Next()

	err := d.SubmitJob(ctx, stale, jobgraph.New("x", nil))
	require.ErrorIs(t, err, ErrStaleLeader)

	var sle *StaleLeaderError
	require.True(t, errors.As(err, &sle))
	assert.True(t, sle.Current.Equal(d.FencingToken()))
	assert.True(t, sle.Got.Equal(stale))

	_, err = d.ListJobs(ctx, fencing.Token{})
	assert.ErrorIs(t, err, ErrStaleLeader)
}

func TestDispatcherCompleteRemovesFromStore(t *testing.T) {
	d, store, _ := startDispatcher(t)
	ctx := context.Background()
	tok := d.FencingToken()

	g := jobgraph.New("etl", []byte("plan"))
	require.NoError(t, d.SubmitJob(ctx, tok, g))
	require.NoError(t, d.CompleteJob(ctx, tok, g.JobID, StatusFinished))

	assert.ErrorIs(t, d.CancelJob(ctx, tok, g.JobID), ErrJobFinished)
	assert.ErrorIs(t, d.CancelJob(ctx, tok, "missing"), ErrJobNotFound)
	assert.Error(t, d.CompleteJob(ctx, tok, g.JobID, StatusRunning))

	st, err := d.RequestJobStatus(ctx, tok, g.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, st.Status)
	assert.NotNil(t, st.FinishedAt)

	persisted, err := store.RecoverJobGraphs(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted)

	// A finished job id may be submitted again.
	require.NoError(t, d.SubmitJob(ctx, tok, g))
}

func TestDispatcherStopRejectsCalls(t *testing.T) {
	d, _, _ := startDispatcher(t)
	d.Stop()
	d.Stop()

	_, err := d.ListJobs(context.Background(), d.FencingToken())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestDispatcherSurfacesWriterErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	w := mocks.NewMockWriter(ctrl)
	d := New(fencing.NewMinter().Next(), w, Options{})
	require.NoError(t, d.Start(context.Background(), nil))

	g := jobgraph.New("j", nil)
	w.EXPECT().Put(gomock.Any(), g).Return(jobgraph.ErrWriterClosed)

	err := d.SubmitJob(context.Background(), d.FencingToken(), g)
	assert.ErrorIs(t, err, jobgraph.ErrWriterClosed)

	_, err = d.RequestJobStatus(context.Background(), d.FencingToken(), g.JobID)
	assert.ErrorIs(t, err, ErrJobNotFound, "failed submissions are not registered")
}

func TestDispatcherReportsActiveJobs(t *testing.T) {
	store := jobgraph.NewMemoryStore()
	w, err := store.WriterFor(context.Background(), 1)
	require.NoError(t, err)

	var active []int
	d := New(fencing.NewMinter().Next(), w, Options{OnActiveJobs: func(n int) { active = append(active, n) }})
	require.NoError(t, d.Start(context.Background(), []*jobgraph.JobGraph{jobgraph.New("r", nil)}))

	g := jobgraph.New("s", nil)
	require.NoError(t, d.SubmitJob(context.Background(), d.FencingToken(), g))
	require.NoError(t, d.CancelJob(context.Background(), d.FencingToken(), g.JobID))

	assert.Equal(t, []int{1, 2, 1}, active)
}

func TestDispatcherJobLogsKeepInjectedFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil)).With("component", "dispatcher")

	store := jobgraph.NewMemoryStore()
	w, err := store.WriterFor(context.Background(), 1)
	require.NoError(t, err)
	token := fencing.NewMinter().Next()
	d := New(token, w, Options{Logger: logger})
	require.NoError(t, d.Start(context.Background(), nil))

	g := jobgraph.New("wordcount", nil)
	require.NoError(t, d.SubmitJob(context.Background(), token, g))
	require.NoError(t, d.CancelJob(context.Background(), token, g.JobID))

	var jobLines int
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		if rec["job_id"] == nil {
			continue
		}
		jobLines++
		assert.Equal(t, g.JobID, rec["job_id"])
		assert.Equal(t, "dispatcher", rec["component"])
		assert.Equal(t, token.String(), rec["fencing_token"])
	}
	assert.Equal(t, 2, jobLines)
}
