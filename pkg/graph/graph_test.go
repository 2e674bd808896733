package graph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opnlabs/dotc/pkg/diag"
	"github.com/opnlabs/dotc/pkg/models"
)

func jobs(ids ...string) []models.Job {
	out := make([]models.Job, len(ids))
	for i, id := range ids {
		out[i] = models.Job{ID: id}
	}
	return out
}

func TestBuildBarrierEdges(t *testing.T) {
	g, err := Build([]Stage{
		{Name: "build", Jobs: jobs("BuildJava8", "BuildJava11")},
		{Name: "test", Jobs: jobs("FunctionalTestJava8", "FunctionalTestJava11", "SamplesTest")},
	})
	require.NoError(t, err)

	for _, id := range []string{"BuildJava8", "BuildJava11"} {
		assert.Empty(t, g.DependenciesOf(id), id)
	}
	for _, id := range []string{"FunctionalTestJava8", "FunctionalTestJava11", "SamplesTest"} {
		assert.Equal(t, []string{"BuildJava8", "BuildJava11"}, g.DependenciesOf(id), id)
	}

	stages := g.Stages()
	require.Len(t, stages, 2)
	assert.Equal(t, "test", stages[1].Name)
	assert.Equal(t, []string{"FunctionalTestJava8", "FunctionalTestJava11", "SamplesTest"}, stages[1].JobIDs)

	j, ok := g.Job("SamplesTest")
	require.True(t, ok)
	assert.Equal(t, "test", j.Stage)
}

func TestBuildBarrierSkipsEmptyStage(t *testing.T) {
	g, err := Build([]Stage{
		{Name: "build", Jobs: jobs("A")},
		{Name: "lint"},
		{Name: "report", Jobs: jobs("B")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, g.DependenciesOf("B"))
	assert.Len(t, g.Stages(), 3)
}

func TestBuildBarrierIsOnlyToPreviousStage(t *testing.T) {
	g, err := Build([]Stage{
		{Name: "one", Jobs: jobs("A")},
		{Name: "two", Jobs: jobs("B")},
		{Name: "three", Jobs: jobs("C")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, g.DependenciesOf("C"))
}

func TestBuildEmptyPipeline(t *testing.T) {
	_, err := Build(nil)
	assert.ErrorIs(t, err, diag.ErrEmptyPipeline)

	_, err = Build([]Stage{{Name: "build"}, {Name: "test"}})
	assert.ErrorIs(t, err, diag.ErrEmptyPipeline)
}

func TestBuildDuplicateAcrossStages(t *testing.T) {
	_, err := Build([]Stage{
		{Name: "build", Jobs: jobs("BuildJava8")},
		{Name: "test", Jobs: jobs("BuildJava8")},
	})
	require.ErrorIs(t, err, diag.ErrDuplicateJobID)

	var de *diag.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "BuildJava8", de.Entity)
	assert.Equal(t, diag.PhaseGraph, de.Phase)
}

func TestBuildDuplicateWithinStage(t *testing.T) {
	_, err := Build([]Stage{{Name: "build", Jobs: jobs("A", "A")}})
	assert.ErrorIs(t, err, diag.ErrDuplicateJobID)
}

func TestTopologicalOrder(t *testing.T) {
	g, err := Build([]Stage{
		{Name: "build", Jobs: jobs("B1", "B2")},
		{Name: "test", Jobs: jobs("T1", "T2")},
	})
	require.NoError(t, err)

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"B1", "B2", "T1", "T2"}, order)
}

func TestWithEdgeIntraStage(t *testing.T) {
	g, err := Build([]Stage{
		{Name: "build", Jobs: jobs("B1")},
		{Name: "test", Jobs: jobs("T1", "T2")},
	})
	require.NoError(t, err)

	g2, err := g.WithEdge("T2", "T1")
	require.NoError(t, err)

	assert.Equal(t, []string{"B1"}, g.DependenciesOf("T1"), "original graph must not change")
	assert.Equal(t, []string{"B1", "T2"}, g2.DependenciesOf("T1"))

	order, err := g2.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"B1", "T2", "T1"}, order)
}

func TestWithEdgeRejectsInvalid(t *testing.T) {
	g, err := Build([]Stage{
		{Name: "build", Jobs: jobs("B1")},
		{Name: "test", Jobs: jobs("T1")},
	})
	require.NoError(t, err)

	_, err = g.WithEdge("T1", "B1")
	assert.ErrorIs(t, err, diag.ErrInvalidDefinition)
	_, err = g.WithEdge("missing", "T1")
	assert.ErrorIs(t, err, diag.ErrInvalidDefinition)
}

func TestTopologicalOrderDetectsCycle(t *testing.T) {
	g, err := Build([]Stage{{Name: "test", Jobs: jobs("T1", "T2")}})
	require.NoError(t, err)
	g, err = g.WithEdge("T1", "T2")
	require.NoError(t, err)
	g, err = g.WithEdge("T2", "T1")
	require.NoError(t, err)

	_, err = g.TopologicalOrder()
	require.ErrorIs(t, err, diag.ErrInvalidDefinition)
}

func TestWalkHonoursBarrier(t *testing.T) {
	g, err := Build([]Stage{
		{Name: "build", Jobs: jobs("B1", "B2", "B3")},
		{Name: "test", Jobs: jobs("T1", "T2")},
	})
	require.NoError(t, err)

	var mu sync.Mutex
	finished := make(map[string]bool)
	var running, peak int32

	err = g.Walk(context.Background(), func(ctx context.Context, job models.Job) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		mu.Lock()
		for _, d := range g.DependenciesOf(job.ID) {
			if !finished[d] {
				t.Errorf("%s started before %s finished", job.ID, d)
			}
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		finished[job.ID] = true
		mu.Unlock()
		atomic.AddInt32(&running, -1)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, finished, 5)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestWalkFailsFast(t *testing.T) {
	g, err := Build([]Stage{
		{Name: "build", Jobs: jobs("B1", "B2")},
		{Name: "test", Jobs: jobs("T1")},
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	var visited sync.Map
	err = g.Walk(context.Background(), func(ctx context.Context, job models.Job) error {
		visited.Store(job.ID, true)
		if job.ID == "B2" {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "stage build")
	_, ok := visited.Load("T1")
	assert.False(t, ok, "next stage must not start after a failure")
}

func TestWalkIntraStageWaves(t *testing.T) {
	g, err := Build([]Stage{{Name: "test", Jobs: jobs("T1", "T2", "T3")}})
	require.NoError(t, err)
	g, err = g.WithEdge("T3", "T1")
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []string
	err = g.Walk(context.Background(), func(ctx context.Context, job models.Job) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, job.ID)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 3)
	assert.Equal(t, "T1", seen[2])
}
