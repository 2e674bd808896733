// Package emit serializes a pipeline graph into the artifact consumed by
// the CI runtime, and reads such artifacts back.
//
// Emission is pure: the same graph and settings always produce the same
// bytes, so artifacts can be reviewed as diffs.
package emit

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/opnlabs/dotc/pkg/diag"
	"github.com/opnlabs/dotc/pkg/graph"
	"github.com/opnlabs/dotc/pkg/models"
)

// Version of the artifact layout.
const Version = 1

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Settings is the project level data shared by every job.
type Settings struct {
	Project      models.Project
	VCS          models.VCSRoot
	IssueTracker *models.IssueTracker
	Params       map[string]string
}

type Artifact struct {
	Version      int                  `yaml:"version" json:"version"`
	PipelineID   string               `yaml:"pipelineId" json:"pipelineId"`
	Digest       string               `yaml:"digest" json:"digest"`
	Project      models.Project       `yaml:"project" json:"project"`
	VCS          models.VCSRoot       `yaml:"vcs" json:"vcs"`
	IssueTracker *models.IssueTracker `yaml:"issueTracker,omitempty" json:"issueTracker,omitempty"`
	Params       map[string]string    `yaml:"params,omitempty" json:"params,omitempty"`
	Stages       []Stage              `yaml:"stages" json:"stages"`
	Jobs         []Job                `yaml:"jobs" json:"jobs"`
}

type Stage struct {
	Name string   `yaml:"name" json:"name"`
	Jobs []string `yaml:"jobs" json:"jobs"`
}

type Job struct {
	ID                string                   `yaml:"id" json:"id"`
	Ref               string                   `yaml:"ref" json:"ref"`
	Name              string                   `yaml:"name" json:"name"`
	Stage             string                   `yaml:"stage" json:"stage"`
	Templates         []string                 `yaml:"templates,omitempty" json:"templates,omitempty"`
	Steps             []models.Step            `yaml:"steps" json:"steps"`
	Params            map[string]string        `yaml:"params,omitempty" json:"params,omitempty"`
	Triggers          []models.Trigger         `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Requirements      []models.Requirement     `yaml:"requirements,omitempty" json:"requirements,omitempty"`
	Features          []models.Feature         `yaml:"features,omitempty" json:"features,omitempty"`
	FailureConditions models.FailureConditions `yaml:"failureConditions,omitempty" json:"failureConditions,omitempty"`
	ArtifactRules     string                   `yaml:"artifactRules,omitempty" json:"artifactRules,omitempty"`
	DependsOn         []string                 `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
}

// Build assembles the artifact for g. It fails on features the runtime
// format cannot express instead of dropping them.
func Build(g *graph.Graph, s Settings) (*Artifact, error) {
	a := &Artifact{
		Version:      Version,
		PipelineID:   PipelineID(s.Project, s.VCS),
		Project:      s.Project,
		VCS:          s.VCS,
		IssueTracker: s.IssueTracker,
		Params:       s.Params,
	}
	for _, st := range g.Stages() {
		a.Stages = append(a.Stages, Stage{Name: st.Name, Jobs: st.JobIDs})
	}

	refs := newRefs()
	for _, j := range g.Jobs() {
		if err := checkSupported(j); err != nil {
			return nil, err
		}
		params := j.Params
		if params == nil {
			params = j.MergedParams()
		}
		a.Jobs = append(a.Jobs, Job{
			ID:                j.ID,
			Ref:               refs.make(j.ID),
			Name:              j.Name,
			Stage:             j.Stage,
			Templates:         j.TemplateRefs,
			Steps:             j.Steps,
			Params:            params,
			Triggers:          j.Triggers,
			Requirements:      j.Requirements,
			Features:          j.Features,
			FailureConditions: j.FailureConditions,
			ArtifactRules:     j.ArtifactRules,
			DependsOn:         g.DependenciesOf(j.ID),
		})
	}

	digest, err := Digest(a)
	if err != nil {
		return nil, err
	}
	a.Digest = digest
	return a, nil
}

// Emit builds the artifact for g and encodes it.
func Emit(g *graph.Graph, s Settings, f Format) ([]byte, error) {
	a, err := Build(g, s)
	if err != nil {
		return nil, err
	}
	return Encode(a, f)
}

// Encode writes a in the given format.
func Encode(a *Artifact, f Format) ([]byte, error) {
	switch f {
	case FormatYAML, "":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(a); err != nil {
			return nil, fmt.Errorf("encoding artifact: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encoding artifact: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSON:
		b, err := json.MarshalIndent(a, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding artifact: %w", err)
		}
		return append(b, '\n'), nil
	}
	return nil, diag.New(diag.ErrUnsupportedFeature, diag.PhaseEmit, "", string(f)).WithDetail("artifact format")
}

// PipelineID derives a stable UUID for a project on a VCS root.
func PipelineID(p models.Project, vcs models.VCSRoot) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(vcs.URL+"#"+p.ID)).String()
}

// Digest hashes the stage and job sections of a with blake3. Project
// metadata is left out so that only changes to what runs alter it.
func Digest(a *Artifact) (string, error) {
	b, err := json.Marshal(struct {
		Params map[string]string `json:"params"`
		Stages []Stage           `json:"stages"`
		Jobs   []Job             `json:"jobs"`
	}{a.Params, a.Stages, a.Jobs})
	if err != nil {
		return "", fmt.Errorf("hashing artifact: %w", err)
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// refs hands out runtime identifiers. Ids that slug to the same value get
// a numeric suffix in declaration order.
type refs struct {
	used map[string]bool
}

func newRefs() *refs {
	return &refs{used: make(map[string]bool)}
}

func (r *refs) make(id string) string {
	base := slug.Make(id)
	if base == "" {
		base = "job"
	}
	ref := base
	for n := 2; r.used[ref]; n++ {
		ref = fmt.Sprintf("%s-%d", base, n)
	}
	r.used[ref] = true
	return ref
}
