// Package matrix fans a build out over the Cartesian product of its axes.
package matrix

import (
	"context"
	"errors"
	"regexp"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/opnlabs/dotc/pkg/diag"
	"github.com/opnlabs/dotc/pkg/models"
	"github.com/opnlabs/dotc/pkg/store"
)

// ParamPrefix prefixes the build parameters that carry a job's axis values.
const ParamPrefix = "matrix."

const axisName = `[A-Za-z_][A-Za-z0-9_.\-]*`

var (
	// tokenPattern matches ${Axis} references.
	tokenPattern    = regexp.MustCompile(`\$\{(` + axisName + `)\}`)
	axisNamePattern = regexp.MustCompile(`^` + axisName + `$`)
)

// ValidAxisName reports whether name can be referenced as ${name}.
func ValidAxisName(name string) bool {
	return axisNamePattern.MatchString(name)
}

// Size is the number of combinations the axes produce.
func Size(axes []models.Axis) int {
	if len(axes) == 0 {
		return 0
	}
	n := 1
	for _, a := range axes {
		n *= len(a.Values)
	}
	return n
}

// Combination returns the i-th tuple of axis values. The first axis varies
// slowest.
func Combination(axes []models.Axis, i int) []string {
	tuple := make([]string, len(axes))
	for a := len(axes) - 1; a >= 0; a-- {
		n := len(axes[a].Values)
		tuple[a] = axes[a].Values[i%n]
		i /= n
	}
	return tuple
}

// Tokens returns the distinct axis names referenced in s, in order of
// first appearance.
func Tokens(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range tokenPattern.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Substitute replaces ${Axis} tokens with values. Tokens without a value
// are left untouched.
func Substitute(s string, values map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		if v, ok := values[match[2:len(match)-1]]; ok {
			return v
		}
		return match
	})
}

// Expand produces one job per combination of axes. A job without axes is
// returned as is, provided it references no axis. Expansion order is
// stable: first axis slowest.
func Expand(ctx context.Context, axes []models.Axis, job models.Job) ([]models.Job, error) {
	if err := checkAxes(axes, job); err != nil {
		return nil, err
	}
	if len(axes) == 0 {
		return []models.Job{job}, nil
	}

	total := Size(axes)
	out := make([]models.Job, total)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < total; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = expandOne(axes, Combination(axes, i), job)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := store.NewMemStore[int]()
	for i, j := range out {
		if err := ids.Set(j.ID, i); errors.Is(err, store.ErrKeyExists) {
			return nil, diag.New(diag.ErrDuplicateJobID, diag.PhaseMatrix, job.ID, j.ID).
				WithDetail("combinations %v and %v", Combination(axes, mustGet(ids, j.ID)), Combination(axes, i))
		}
	}
	return out, nil
}

func mustGet(s store.Store[int], key string) int {
	v, _ := s.Get(key)
	return v
}

func checkAxes(axes []models.Axis, job models.Job) error {
	declared := make(map[string]bool, len(axes))
	for _, a := range axes {
		if declared[a.Name] {
			return diag.New(diag.ErrInvalidDefinition, diag.PhaseMatrix, job.ID, a.Name).
				WithDetail("axis declared twice")
		}
		declared[a.Name] = true
	}

	fields := []string{job.ID, job.Name}
	for _, v := range job.TemplateParams {
		fields = append(fields, v)
	}
	for _, v := range job.BuildParams {
		fields = append(fields, v)
	}

	unknown := make(map[string]bool)
	for _, f := range fields {
		for _, tok := range Tokens(f) {
			if !declared[tok] {
				unknown[tok] = true
			}
		}
	}
	if len(unknown) > 0 {
		names := make([]string, 0, len(unknown))
		for n := range unknown {
			names = append(names, n)
		}
		sort.Strings(names)
		return diag.New(diag.ErrUnknownAxisToken, diag.PhaseMatrix, job.ID, names...)
	}
	return nil
}

func expandOne(axes []models.Axis, tuple []string, job models.Job) models.Job {
	values := make(map[string]string, len(axes))
	for i, a := range axes {
		values[a.Name] = tuple[i]
	}

	j := job.Clone()
	j.Matrix = nil
	j.ID = Substitute(job.ID, values)
	j.Name = Substitute(job.Name, values)
	for k, v := range j.TemplateParams {
		j.TemplateParams[k] = Substitute(v, values)
	}
	if j.BuildParams == nil {
		j.BuildParams = make(map[string]string, len(axes))
	}
	for k, v := range j.BuildParams {
		j.BuildParams[k] = Substitute(v, values)
	}
	for _, a := range axes {
		key := ParamPrefix + a.Name
		if _, ok := j.BuildParams[key]; !ok {
			j.BuildParams[key] = values[a.Name]
		}
	}
	return j
}
