package emit

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/opnlabs/dotc/pkg/graph"
	"github.com/opnlabs/dotc/pkg/models"
)

// Parse reads an artifact written by Emit in either format.
func Parse(data []byte) (*Artifact, error) {
	var a Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parsing artifact: %w", err)
	}
	if a.Version != Version {
		return nil, fmt.Errorf("parsing artifact: unsupported version %d", a.Version)
	}
	return &a, nil
}

// Rebuild reconstructs the graph and settings an artifact was emitted from.
// Dependencies beyond the stage barrier are restored as explicit edges.
func Rebuild(a *Artifact) (*graph.Graph, Settings, error) {
	byID := make(map[string]Job, len(a.Jobs))
	for _, j := range a.Jobs {
		byID[j.ID] = j
	}

	stages := make([]graph.Stage, 0, len(a.Stages))
	for _, s := range a.Stages {
		gs := graph.Stage{Name: s.Name}
		for _, id := range s.Jobs {
			j, ok := byID[id]
			if !ok {
				return nil, Settings{}, fmt.Errorf("rebuilding artifact: stage %s lists unknown job %s", s.Name, id)
			}
			gs.Jobs = append(gs.Jobs, models.Job{
				ID:                j.ID,
				Name:              j.Name,
				TemplateRefs:      j.Templates,
				Steps:             j.Steps,
				Params:            j.Params,
				Triggers:          j.Triggers,
				Requirements:      j.Requirements,
				Features:          j.Features,
				FailureConditions: j.FailureConditions,
				ArtifactRules:     j.ArtifactRules,
			})
		}
		stages = append(stages, gs)
	}

	g, err := graph.Build(stages)
	if err != nil {
		return nil, Settings{}, fmt.Errorf("rebuilding artifact: %w", err)
	}
	if n := len(g.Jobs()); n != len(a.Jobs) {
		return nil, Settings{}, fmt.Errorf("rebuilding artifact: %d jobs listed but %d assigned to stages", len(a.Jobs), n)
	}
	for _, j := range a.Jobs {
		implied := make(map[string]bool)
		for _, d := range g.DependenciesOf(j.ID) {
			implied[d] = true
		}
		for _, d := range j.DependsOn {
			if implied[d] {
				continue
			}
			if g, err = g.WithEdge(d, j.ID); err != nil {
				return nil, Settings{}, fmt.Errorf("rebuilding artifact: %w", err)
			}
		}
	}

	return g, Settings{
		Project:      a.Project,
		VCS:          a.VCS,
		IssueTracker: a.IssueTracker,
		Params:       a.Params,
	}, nil
}
