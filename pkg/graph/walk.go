package graph

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/opnlabs/dotc/pkg/models"
)

// VisitFunc is called once per job by Walk.
type VisitFunc func(ctx context.Context, job models.Job) error

// Walk visits jobs the way a runtime honouring the stage barrier runs them.
// Jobs of a stage are visited concurrently and the next stage starts only
// after every job of the current one returned nil. The first error cancels
// the context handed to the remaining jobs and stops the walk.
func (g *Graph) Walk(ctx context.Context, fn VisitFunc) error {
	for _, s := range g.stages {
		waves, err := g.waves(s.JobIDs)
		if err != nil {
			return err
		}
		for _, wave := range waves {
			eg, stageCtx := errgroup.WithContext(ctx)
			for _, id := range wave {
				job := g.jobs[id]
				eg.Go(func() error {
					return fn(stageCtx, job)
				})
			}
			if err := eg.Wait(); err != nil {
				return fmt.Errorf("stage %s: %w", s.Name, err)
			}
		}
	}
	return nil
}

// waves splits a stage into groups that can run together, honouring
// intra-stage edges. Without such edges a stage is a single wave.
func (g *Graph) waves(ids []string) ([][]string, error) {
	ordered, err := g.topo(ids)
	if err != nil {
		return nil, err
	}
	level := make(map[string]int, len(ordered))
	var waves [][]string
	for _, id := range ordered {
		l := 0
		for _, d := range g.deps[id] {
			if dl, ok := level[d]; ok && dl+1 > l {
				l = dl + 1
			}
		}
		level[id] = l
		if l == len(waves) {
			waves = append(waves, nil)
		}
		waves[l] = append(waves[l], id)
	}
	return waves, nil
}
