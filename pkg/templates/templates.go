// Package templates merges build definitions with the templates they
// reference.
//
// Templates are applied in the order a build lists them:
//
//   - Params: later templates override earlier ones, build params win last
//   - Steps: appended; a step whose id already exists replaces it in place
//   - Triggers, features: appended, deduplicated by id (later wins)
//   - Requirements: appended, deduplicated by name (later wins)
//   - Failure conditions: later non-zero fields win
//
// Template records are never modified; every resolved job owns its data.
package templates

import (
	"errors"
	"sort"

	"github.com/opnlabs/dotc/pkg/diag"
	"github.com/opnlabs/dotc/pkg/models"
	"github.com/opnlabs/dotc/pkg/store"
)

// Table is the project's template registry.
type Table struct {
	templates store.Store[models.Template]
}

// NewTable registers templates by id. Duplicate ids are rejected.
func NewTable(ts []models.Template) (*Table, error) {
	s := store.NewMemStore[models.Template]()
	for _, t := range ts {
		if err := s.Set(t.ID, t); err != nil {
			if errors.Is(err, store.ErrKeyExists) {
				return nil, diag.New(diag.ErrInvalidDefinition, diag.PhaseTemplates, t.ID).
					WithDetail("template declared twice")
			}
			return nil, err
		}
	}
	return &Table{templates: s}, nil
}

// IDs returns template ids in declaration order.
func (t *Table) IDs() []string {
	return t.templates.Keys()
}

// Get returns the template with the given id.
func (t *Table) Get(id string) (models.Template, error) {
	tmpl, err := t.templates.Get(id)
	if err != nil {
		return models.Template{}, diag.New(diag.ErrUnknownTemplate, diag.PhaseTemplates, "", id)
	}
	return tmpl, nil
}

// Resolve merges build with its templates into a job. Parameter values are
// not interpolated here.
func Resolve(build models.Build, table *Table) (models.Job, error) {
	job := models.Job{
		ID:            build.ID,
		Name:          build.Name,
		TemplateRefs:  append([]string(nil), build.Templates...),
		ArtifactRules: build.ArtifactRules,
		Matrix:        append([]models.Axis(nil), build.Matrix...),
	}
	if job.Name == "" {
		job.Name = build.ID
	}

	templateParams := make(map[string]string)
	var fc models.FailureConditions
	for _, ref := range build.Templates {
		tmpl, err := table.Get(ref)
		if err != nil {
			return models.Job{}, diag.WithEntity(err, build.ID)
		}
		for k, v := range tmpl.Params {
			templateParams[k] = v
		}
		job.Steps = mergeSteps(job.Steps, tmpl.Steps)
		job.Triggers = mergeByKey(job.Triggers, tmpl.Triggers, func(t models.Trigger) string { return t.ID })
		job.Features = mergeByKey(job.Features, tmpl.Features, func(f models.Feature) string { return f.ID })
		job.Requirements = mergeByKey(job.Requirements, tmpl.Requirements, func(r models.Requirement) string { return r.Name })
		fc = MergeFailureConditions(fc, tmpl.FailureConditions)
	}

	job.Steps = mergeSteps(job.Steps, build.Steps)
	job.Triggers = mergeByKey(job.Triggers, build.Triggers, func(t models.Trigger) string { return t.ID })
	job.Features = mergeByKey(job.Features, build.Features, func(f models.Feature) string { return f.ID })
	job.Requirements = mergeByKey(job.Requirements, build.Requirements, func(r models.Requirement) string { return r.Name })
	if build.FailureConditions != nil {
		fc = MergeFailureConditions(fc, *build.FailureConditions)
	}
	job.FailureConditions = fc

	if len(build.StepsOrder) > 0 {
		steps, err := reorder(job.Steps, build.StepsOrder)
		if err != nil {
			return models.Job{}, diag.WithEntity(err, build.ID)
		}
		job.Steps = steps
	}

	job.TemplateParams = templateParams
	job.BuildParams = make(map[string]string, len(build.Params))
	for k, v := range build.Params {
		job.BuildParams[k] = v
	}
	return job, nil
}

// MergeFailureConditions overlays the non-zero fields of child onto parent.
func MergeFailureConditions(parent, child models.FailureConditions) models.FailureConditions {
	out := parent
	if child.ExecutionTimeoutMin != 0 {
		out.ExecutionTimeoutMin = child.ExecutionTimeoutMin
	}
	if child.NonZeroExitCode != nil {
		v := *child.NonZeroExitCode
		out.NonZeroExitCode = &v
	}
	if child.ErrorMessage != nil {
		v := *child.ErrorMessage
		out.ErrorMessage = &v
	}
	return out
}

// ApplyDefaults fills the failure condition fields job left unset.
func ApplyDefaults(job models.Job, defaults models.FailureConditions) models.Job {
	job.FailureConditions = MergeFailureConditions(defaults, job.FailureConditions)
	return job
}

func mergeSteps(parent, child []models.Step) []models.Step {
	out := make([]models.Step, len(parent), len(parent)+len(child))
	copy(out, parent)
	index := make(map[string]int, len(out))
	for i, s := range out {
		index[s.ID] = i
	}
	for _, s := range child {
		s.Properties = copyProps(s.Properties)
		if i, ok := index[s.ID]; ok {
			out[i] = s
			continue
		}
		index[s.ID] = len(out)
		out = append(out, s)
	}
	return out
}

func mergeByKey[T any](parent, child []T, key func(T) string) []T {
	out := make([]T, len(parent), len(parent)+len(child))
	copy(out, parent)
	index := make(map[string]int, len(out))
	for i, v := range out {
		index[key(v)] = i
	}
	for _, v := range child {
		if i, ok := index[key(v)]; ok {
			out[i] = v
			continue
		}
		index[key(v)] = len(out)
		out = append(out, v)
	}
	return out
}

func copyProps(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// reorder applies an explicit step order, which must be a permutation of
// the declared step ids.
func reorder(steps []models.Step, order []string) ([]models.Step, error) {
	byID := make(map[string]models.Step, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}

	var unknown, repeated []string
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		if seen[id] {
			repeated = append(repeated, id)
			continue
		}
		seen[id] = true
		if _, ok := byID[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	var missing []string
	for _, s := range steps {
		if !seen[s.ID] {
			missing = append(missing, s.ID)
		}
	}
	if len(unknown)+len(repeated)+len(missing) > 0 {
		names := append(append(append([]string(nil), unknown...), repeated...), missing...)
		sort.Strings(names)
		return nil, diag.New(diag.ErrInvalidStepOrder, diag.PhaseTemplates, "", names...).
			WithDetail("unknown %v, repeated %v, missing %v", unknown, repeated, missing)
	}

	out := make([]models.Step, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}
