// Package graph assembles resolved jobs into the staged dependency graph.
//
// Stages are full barriers: every job of a stage depends on every job of
// the nearest preceding stage that has jobs. Jobs inside one stage are
// independent unless an edge is added explicitly with WithEdge.
package graph

import (
	"errors"
	"sort"

	"github.com/opnlabs/dotc/pkg/diag"
	"github.com/opnlabs/dotc/pkg/models"
	"github.com/opnlabs/dotc/pkg/store"
)

// Stage is the builder input: an ordered group of jobs.
type Stage struct {
	Name string
	Jobs []models.Job
}

// StageInfo describes a stage of a built graph.
type StageInfo struct {
	Name   string
	JobIDs []string
}

// Graph is immutable once built. WithEdge returns a modified copy.
type Graph struct {
	stages  []StageInfo
	jobs    map[string]models.Job
	order   []string
	index   map[string]int
	stageOf map[string]int
	deps    map[string][]string
}

// Build validates stages and wires the barrier edges.
func Build(stages []Stage) (*Graph, error) {
	if len(stages) == 0 {
		return nil, diag.New(diag.ErrEmptyPipeline, diag.PhaseGraph, "").WithDetail("no stages declared")
	}

	g := &Graph{
		jobs:    make(map[string]models.Job),
		index:   make(map[string]int),
		stageOf: make(map[string]int),
		deps:    make(map[string][]string),
	}
	ids := store.NewMemStore[string]()
	var previous []string
	for si, s := range stages {
		info := StageInfo{Name: s.Name}
		for _, job := range s.Jobs {
			if err := ids.Set(job.ID, s.Name); errors.Is(err, store.ErrKeyExists) {
				first, _ := ids.Get(job.ID)
				return nil, diag.New(diag.ErrDuplicateJobID, diag.PhaseGraph, job.ID, job.ID).
					WithDetail("declared in stage %q and stage %q", first, s.Name)
			}
			job.Stage = s.Name
			g.jobs[job.ID] = job
			g.index[job.ID] = len(g.order)
			g.order = append(g.order, job.ID)
			g.stageOf[job.ID] = si
			g.deps[job.ID] = append([]string(nil), previous...)
			info.JobIDs = append(info.JobIDs, job.ID)
		}
		if len(info.JobIDs) > 0 {
			previous = info.JobIDs
		}
		g.stages = append(g.stages, info)
	}
	if len(g.order) == 0 {
		return nil, diag.New(diag.ErrEmptyPipeline, diag.PhaseGraph, "").WithDetail("stages declare no jobs")
	}
	return g, nil
}

// Stages returns the stage list in order.
func (g *Graph) Stages() []StageInfo {
	out := make([]StageInfo, len(g.stages))
	for i, s := range g.stages {
		out[i] = StageInfo{Name: s.Name, JobIDs: append([]string(nil), s.JobIDs...)}
	}
	return out
}

// Jobs returns every job in declaration order.
func (g *Graph) Jobs() []models.Job {
	out := make([]models.Job, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.jobs[id])
	}
	return out
}

func (g *Graph) Job(id string) (models.Job, bool) {
	j, ok := g.jobs[id]
	return j, ok
}

// DependenciesOf returns the ids job id waits for, in declaration order.
func (g *Graph) DependenciesOf(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// WithEdge returns a copy of g in which to also depends on from. Edges may
// not point from a later stage to an earlier one.
func (g *Graph) WithEdge(from, to string) (*Graph, error) {
	for _, id := range []string{from, to} {
		if _, ok := g.jobs[id]; !ok {
			return nil, diag.New(diag.ErrInvalidDefinition, diag.PhaseGraph, to, id).WithDetail("unknown job")
		}
	}
	if g.stageOf[from] > g.stageOf[to] {
		return nil, diag.New(diag.ErrInvalidDefinition, diag.PhaseGraph, to, from).
			WithDetail("dependency on a job of a later stage")
	}

	c := g.clone()
	for _, d := range c.deps[to] {
		if d == from {
			return c, nil
		}
	}
	deps := append(c.deps[to], from)
	sort.Slice(deps, func(i, j int) bool { return c.index[deps[i]] < c.index[deps[j]] })
	c.deps[to] = deps
	return c, nil
}

func (g *Graph) clone() *Graph {
	c := &Graph{
		stages:  g.Stages(),
		jobs:    make(map[string]models.Job, len(g.jobs)),
		order:   append([]string(nil), g.order...),
		index:   make(map[string]int, len(g.index)),
		stageOf: make(map[string]int, len(g.stageOf)),
		deps:    make(map[string][]string, len(g.deps)),
	}
	for k, v := range g.jobs {
		c.jobs[k] = v
	}
	for k, v := range g.index {
		c.index[k] = v
	}
	for k, v := range g.stageOf {
		c.stageOf[k] = v
	}
	for k, v := range g.deps {
		c.deps[k] = append([]string(nil), v...)
	}
	return c
}

// TopologicalOrder returns job ids so that every job follows its
// dependencies. Ties break by declaration order, so the result is stable.
func (g *Graph) TopologicalOrder() ([]string, error) {
	return g.topo(g.order)
}

func (g *Graph) topo(ids []string) ([]string, error) {
	member := make(map[string]bool, len(ids))
	for _, id := range ids {
		member[id] = true
	}
	indegree := make(map[string]int, len(ids))
	dependents := make(map[string][]string, len(ids))
	for _, id := range ids {
		for _, d := range g.deps[id] {
			if !member[d] {
				continue
			}
			indegree[id]++
			dependents[d] = append(dependents[d], id)
		}
	}

	var ready []string
	for _, id := range ids {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	out := make([]string, 0, len(ids))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = g.insertByIndex(ready, dep)
			}
		}
	}
	if len(out) != len(ids) {
		var stuck []string
		for _, id := range ids {
			if indegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, diag.New(diag.ErrInvalidDefinition, diag.PhaseGraph, "", stuck...).WithDetail("dependency cycle")
	}
	return out, nil
}

func (g *Graph) insertByIndex(ready []string, id string) []string {
	i := sort.Search(len(ready), func(i int) bool { return g.index[ready[i]] > g.index[id] })
	ready = append(ready, "")
	copy(ready[i+1:], ready[i:])
	ready[i] = id
	return ready
}
