package models

// Job is a build after template resolution and, for matrix builds, after
// expansion. Parameters are kept per scope until the compiler interpolates
// them; Params then holds the final values.
type Job struct {
	ID                string
	Name              string
	Stage             string
	TemplateRefs      []string
	Steps             []Step
	TemplateParams    map[string]string
	BuildParams       map[string]string
	Params            map[string]string
	Triggers          []Trigger
	Requirements      []Requirement
	Features          []Feature
	FailureConditions FailureConditions
	ArtifactRules     string
	Matrix            []Axis
}

// MergedParams returns template params overlaid with build params.
func (j Job) MergedParams() map[string]string {
	out := make(map[string]string, len(j.TemplateParams)+len(j.BuildParams))
	for k, v := range j.TemplateParams {
		out[k] = v
	}
	for k, v := range j.BuildParams {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy of j so expanded jobs never share maps or slices.
func (j Job) Clone() Job {
	c := j
	c.TemplateRefs = append([]string(nil), j.TemplateRefs...)
	c.TemplateParams = cloneMap(j.TemplateParams)
	c.BuildParams = cloneMap(j.BuildParams)
	c.Params = cloneMap(j.Params)
	c.Steps = make([]Step, len(j.Steps))
	for i, s := range j.Steps {
		s.Properties = cloneMap(s.Properties)
		c.Steps[i] = s
	}
	c.Triggers = append([]Trigger(nil), j.Triggers...)
	c.Requirements = append([]Requirement(nil), j.Requirements...)
	c.Features = append([]Feature(nil), j.Features...)
	c.Matrix = append([]Axis(nil), j.Matrix...)
	return c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
