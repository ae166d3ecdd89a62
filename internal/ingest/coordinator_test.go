package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XuanZiK/V-knowledge/internal/async"
	"github.com/XuanZiK/V-knowledge/internal/chunk"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
)

func TestCoordinator_RunsJob(t *testing.T) {
	// Given: a coordinator over a real store
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha\n\nbeta")
	s, mem := newStore(t)
	c := NewCoordinator(NewPipeline(chunk.New(), s, nil), nil)

	// When: a job runs to completion
	job, err := c.Start(context.Background(), Batch{Collection: "kb", Files: []string{a}})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID())
	evs := collect(job.Events())
	res, err := job.Wait()

	// Then: the result and progress reflect the batch
	require.NoError(t, err)
	assert.Equal(t, 2, res.Chunks)
	assert.Len(t, mem.Points("kb"), 2)
	assert.Equal(t, EventFinished, evs[len(evs)-1].Kind)

	snap := job.Progress()
	assert.Equal(t, string(async.StatusReady), snap.Status)
	assert.Equal(t, 1, snap.FilesProcessed)
	assert.Equal(t, 2, snap.ChunksIngested)
	assert.InDelta(t, 100.0, snap.ProgressPct, 0.001)

	_, active := c.Active("kb")
	assert.False(t, active)
}

func TestCoordinator_OneJobPerCollection(t *testing.T) {
	// Given: a running job on "kb"
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")
	gs := newGatedStore()
	c := NewCoordinator(NewPipeline(chunk.New(), gs, nil), nil)

	first, err := c.Start(context.Background(), Batch{Collection: "kb", Files: []string{a}})
	require.NoError(t, err)
	<-gs.entered

	// When: a second job targets the same collection
	_, err = c.Start(context.Background(), Batch{Collection: "kb", Files: []string{a}})

	// Then: it is rejected
	assert.True(t, errors.Is(err, vkberrors.ErrIngestInProgress))
	assert.Equal(t, []string{"kb"}, c.Running())

	// And: another collection may run concurrently
	other, err := c.Start(context.Background(), Batch{Collection: "other", Files: []string{a}})
	require.NoError(t, err)
	<-gs.entered

	close(gs.release)
	_, err = first.Wait()
	require.NoError(t, err)
	_, err = other.Wait()
	require.NoError(t, err)

	// And: once finished the collection is free again
	again, err := c.Start(context.Background(), Batch{Collection: "kb", Files: nil})
	require.NoError(t, err)
	_, err = again.Wait()
	require.NoError(t, err)
}

func TestCoordinator_Cancel(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "one\n\ntwo")
	gs := newGatedStore()
	c := NewCoordinator(NewPipeline(chunk.New(), gs, nil), nil)

	job, err := c.Start(context.Background(), Batch{Collection: "kb", Files: []string{a}})
	require.NoError(t, err)
	<-gs.entered

	job.Cancel()
	res, err := job.Wait()

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Cancelled)
	assert.Equal(t, string(async.StatusCancelled), job.Progress().Status)
}

func TestCoordinator_SkipExisting(t *testing.T) {
	// Given: a file already ingested through the coordinator
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")
	b := writeFile(t, dir, "b.txt", "beta")
	s, _ := newStore(t)
	c := NewCoordinator(NewPipeline(chunk.New(), s, nil), nil)

	job, err := c.Start(context.Background(), Batch{Collection: "kb", Files: []string{a}})
	require.NoError(t, err)
	_, err = job.Wait()
	require.NoError(t, err)

	// When: a second batch skips existing files
	job, err = c.Start(context.Background(), Batch{Collection: "kb", Files: []string{a, b}, SkipExisting: true})
	require.NoError(t, err)
	res, err := job.Wait()

	// Then: only the new file is ingested
	require.NoError(t, err)
	assert.Equal(t, []string{a}, res.Skipped)
	assert.Equal(t, []string{b}, res.Succeeded)
	e, _ := s.Registry().Get("kb")
	assert.Equal(t, 2, e.DocCount)

	// When: the collection is forgotten the file is ingested again
	c.Forget("kb")
	job, err = c.Start(context.Background(), Batch{Collection: "kb", Files: []string{a}, SkipExisting: true})
	require.NoError(t, err)
	res, err = job.Wait()
	require.NoError(t, err)
	assert.Empty(t, res.Skipped)
}

func TestCoordinator_AllFilesFailed(t *testing.T) {
	s, _ := newStore(t)
	c := NewCoordinator(NewPipeline(chunk.New(), s, nil), nil)

	job, err := c.Start(context.Background(), Batch{Collection: "kb", Files: []string{"/does/not/exist.txt"}})
	require.NoError(t, err)
	res, err := job.Wait()

	require.Error(t, err)
	assert.Equal(t, vkberrors.ErrCodeIngestFailed, vkberrors.GetCode(err))
	assert.True(t, errors.Is(res.Failed[0].Err, vkberrors.ErrNotFound))
	assert.Equal(t, string(async.StatusError), job.Progress().Status)
}
