// Package compiler runs a pipeline definition through every compilation
// phase and produces the artifact.
//
// The phases run strictly in order:
//
//	Parsed -> ParametersResolved -> TemplatesResolved -> MatrixExpanded -> GraphBuilt -> Emitted
//
// Job level %param% references are interpolated once matrix expansion has
// produced concrete jobs; failures there are reported with the parameters
// phase. The first error stops compilation and nothing is emitted.
package compiler

import (
	"context"
	"io"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/opnlabs/dotc/pkg/diag"
	"github.com/opnlabs/dotc/pkg/emit"
	"github.com/opnlabs/dotc/pkg/graph"
	"github.com/opnlabs/dotc/pkg/loader"
	"github.com/opnlabs/dotc/pkg/matrix"
	"github.com/opnlabs/dotc/pkg/models"
	"github.com/opnlabs/dotc/pkg/params"
	"github.com/opnlabs/dotc/pkg/templates"
)

type State string

const (
	StateParsed             State = "Parsed"
	StateParametersResolved State = "ParametersResolved"
	StateTemplatesResolved  State = "TemplatesResolved"
	StateMatrixExpanded     State = "MatrixExpanded"
	StateGraphBuilt         State = "GraphBuilt"
	StateEmitted            State = "Emitted"
)

type Options struct {
	// Params override global parameters of the definition.
	Params map[string]string
	Format emit.Format
	Logger *log.Logger
}

type Result struct {
	State    State
	Graph    *graph.Graph
	Settings emit.Settings
	// Pipeline is the artifact model; Artifact holds its encoding.
	Pipeline *emit.Artifact
	Artifact []byte
}

type Compiler struct {
	opts   Options
	logger *log.Logger
}

func New(opts Options) *Compiler {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if opts.Format == "" {
		opts.Format = emit.FormatYAML
	}
	return &Compiler{opts: opts, logger: logger}
}

// CompileFile loads the definition at path and compiles it.
func (c *Compiler) CompileFile(ctx context.Context, path string) (*Result, error) {
	def, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("definition loaded", "path", path, "project", def.Project.ID)
	return c.Compile(ctx, def)
}

// Compile runs every phase and returns the emitted artifact.
func (c *Compiler) Compile(ctx context.Context, def *models.Definition) (*Result, error) {
	res, err := c.Plan(ctx, def)
	if err != nil {
		return nil, err
	}
	a, err := emit.Build(res.Graph, res.Settings)
	if err != nil {
		return nil, diag.WithEntity(err, def.Project.ID)
	}
	out, err := emit.Encode(a, c.opts.Format)
	if err != nil {
		return nil, diag.WithEntity(err, def.Project.ID)
	}
	res.Pipeline = a
	res.Artifact = out
	c.advance(res, StateEmitted, "bytes", len(out), "format", c.opts.Format, "digest", a.Digest)
	return res, nil
}

// Plan runs every phase up to the graph and stops before emission.
func (c *Compiler) Plan(ctx context.Context, def *models.Definition) (*Result, error) {
	res := &Result{State: StateParsed}
	if err := loader.Validate(def); err != nil {
		return nil, err
	}

	store, settings, err := c.resolveParameters(def)
	if err != nil {
		return nil, err
	}
	res.Settings = settings
	c.advance(res, StateParametersResolved, "globals", len(settings.Params))

	stages, err := c.resolveTemplates(def)
	if err != nil {
		return nil, err
	}
	c.advance(res, StateTemplatesResolved, "stages", len(stages))

	stages, err = c.expand(ctx, stages, store)
	if err != nil {
		return nil, err
	}
	c.advance(res, StateMatrixExpanded, "jobs", countJobs(stages))

	g, err := graph.Build(stages)
	if err != nil {
		return nil, diag.WithEntity(err, def.Project.ID)
	}
	res.Graph = g
	c.advance(res, StateGraphBuilt, "stages", len(g.Stages()))
	return res, nil
}

func (c *Compiler) advance(res *Result, next State, keyvals ...interface{}) {
	c.logger.Debug("phase complete", append([]interface{}{"from", res.State, "to", next}, keyvals...)...)
	res.State = next
}

func (c *Compiler) resolveParameters(def *models.Definition) (*params.Store, emit.Settings, error) {
	globals := make(map[string]string, len(def.Params)+len(c.opts.Params))
	for k, v := range def.Params {
		globals[k] = v
	}
	for k, v := range c.opts.Params {
		if _, ok := globals[k]; ok {
			c.logger.Debug("parameter overridden", "name", k)
		}
		globals[k] = v
	}

	store, err := params.NewStore(globals, def.RuntimeParams)
	if err != nil {
		return nil, emit.Settings{}, diag.WithEntity(err, def.Project.ID)
	}
	resolved, err := store.ResolveAll(store.GlobalChain())
	if err != nil {
		return nil, emit.Settings{}, diag.WithEntity(err, def.Project.ID)
	}
	return store, emit.Settings{
		Project:      def.Project,
		VCS:          def.VCS,
		IssueTracker: def.IssueTracker,
		Params:       resolved,
	}, nil
}

func (c *Compiler) resolveTemplates(def *models.Definition) ([]graph.Stage, error) {
	table, err := templates.NewTable(def.Templates)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("templates registered", "ids", table.IDs())

	declared := def.Stages
	if len(declared) == 0 && len(def.Builds) > 0 {
		c.logger.Debug("compiling flat build list as a single stage", "stage", models.DefaultStage)
		declared = []models.Stage{{Name: models.DefaultStage, Builds: def.Builds}}
	}

	stages := make([]graph.Stage, 0, len(declared))
	for _, s := range declared {
		gs := graph.Stage{Name: s.Name}
		for _, b := range s.Builds {
			job, err := templates.Resolve(b, table)
			if err != nil {
				return nil, err
			}
			gs.Jobs = append(gs.Jobs, templates.ApplyDefaults(job, s.FailureConditions))
		}
		stages = append(stages, gs)
	}
	return stages, nil
}

func (c *Compiler) expand(ctx context.Context, stages []graph.Stage, store *params.Store) ([]graph.Stage, error) {
	out := make([]graph.Stage, 0, len(stages))
	for _, s := range stages {
		gs := graph.Stage{Name: s.Name}
		for _, job := range s.Jobs {
			expanded, err := matrix.Expand(ctx, job.Matrix, job)
			if err != nil {
				return nil, err
			}
			if len(job.Matrix) > 0 {
				c.logger.Debug("matrix expanded", "build", job.ID, "jobs", len(expanded))
			}
			for _, j := range expanded {
				j, err := interpolate(j, store)
				if err != nil {
					return nil, err
				}
				gs.Jobs = append(gs.Jobs, j)
			}
		}
		out = append(out, gs)
	}
	return out, nil
}

// interpolate resolves the job's own parameters and expands references in
// its step properties and artifact rules.
func interpolate(job models.Job, store *params.Store) (models.Job, error) {
	chain := store.Chain(job.BuildParams, job.TemplateParams)
	merged := job.MergedParams()
	names := make([]string, 0, len(merged))
	for k := range merged {
		names = append(names, k)
	}
	sort.Strings(names)

	resolved, err := store.ResolveNames(chain, names)
	if err != nil {
		return models.Job{}, diag.WithEntity(err, job.ID)
	}

	j := job.Clone()
	j.Params = resolved
	for i, s := range j.Steps {
		keys := make([]string, 0, len(s.Properties))
		for k := range s.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, err := store.Interpolate(s.Properties[k], chain)
			if err != nil {
				return models.Job{}, diag.WithEntity(err, job.ID)
			}
			j.Steps[i].Properties[k] = v
		}
	}
	if j.ArtifactRules, err = store.Interpolate(j.ArtifactRules, chain); err != nil {
		return models.Job{}, diag.WithEntity(err, job.ID)
	}
	return j, nil
}

func countJobs(stages []graph.Stage) int {
	n := 0
	for _, s := range stages {
		n += len(s.Jobs)
	}
	return n
}
