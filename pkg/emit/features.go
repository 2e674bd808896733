package emit

import (
	"github.com/opnlabs/dotc/pkg/diag"
	"github.com/opnlabs/dotc/pkg/models"
)

var (
	stepTypes    = set("script", "gradle", "maven")
	triggerTypes = set("vcs", "schedule", "finish-build")
	featureTypes = set("perfmon", "xml-report", "commit-status")
	operators    = set("exists", "not-exists", "equals", "not-equals", "contains", "starts-with")
)

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

// checkSupported rejects anything the runtime format cannot express.
func checkSupported(job models.Job) error {
	unsupported := func(kind, name string) error {
		return diag.New(diag.ErrUnsupportedFeature, diag.PhaseEmit, job.ID, name).WithDetail("%s", kind)
	}
	for _, s := range job.Steps {
		if !stepTypes[s.Type] {
			return unsupported("step type of "+s.ID, s.Type)
		}
	}
	for _, t := range job.Triggers {
		if !triggerTypes[t.Type] {
			return unsupported("trigger type of "+t.ID, t.Type)
		}
	}
	for _, f := range job.Features {
		if !featureTypes[f.Type] {
			return unsupported("feature type of "+f.ID, f.Type)
		}
	}
	for _, r := range job.Requirements {
		if !operators[r.Operator] {
			return unsupported("requirement operator of "+r.Name, r.Operator)
		}
	}
	return nil
}
