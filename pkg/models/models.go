package models

// Definition is the document a pipeline is compiled from.
type Definition struct {
	Project      Project           `yaml:"project" json:"project" validate:"required"`
	VCS          VCSRoot           `yaml:"vcs" json:"vcs" validate:"required"`
	IssueTracker *IssueTracker     `yaml:"issueTracker,omitempty" json:"issueTracker,omitempty"`
	Params       map[string]string `yaml:"params" json:"params"`
	// RuntimeParams are glob patterns of parameter names the CI agent
	// supplies at run time. References to them are emitted verbatim.
	RuntimeParams []string   `yaml:"runtimeParams" json:"runtimeParams"`
	Templates     []Template `yaml:"templates" json:"templates" validate:"dive"`
	Stages        []Stage    `yaml:"stages" json:"stages" validate:"unique=Name,dive"`
	// Builds is the legacy flat build list. It compiles as a single stage.
	Builds []Build `yaml:"builds" json:"builds" validate:"dive"`
}

type Project struct {
	ID          string `yaml:"id" json:"id" validate:"required"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type VCSRoot struct {
	ID             string `yaml:"id,omitempty" json:"id,omitempty"`
	Name           string `yaml:"name,omitempty" json:"name,omitempty"`
	URL            string `yaml:"url" json:"url" validate:"required"`
	BranchSpec     string `yaml:"branchSpec,omitempty" json:"branchSpec,omitempty"`
	TagsAsBranches bool   `yaml:"tagsAsBranches,omitempty" json:"tagsAsBranches,omitempty"`
	UseMirrors     bool   `yaml:"useMirrors,omitempty" json:"useMirrors,omitempty"`
	CheckoutMode   string `yaml:"checkoutMode,omitempty" json:"checkoutMode,omitempty" validate:"omitempty,oneof=auto on-server on-agent manual"`
	CleanCheckout  bool   `yaml:"cleanCheckout,omitempty" json:"cleanCheckout,omitempty"`
}

type IssueTracker struct {
	DisplayName string `yaml:"displayName" json:"displayName"`
	Repository  string `yaml:"repository" json:"repository"`
	Pattern     string `yaml:"pattern" json:"pattern"`
}

type Template struct {
	ID                string            `yaml:"id" json:"id" validate:"required"`
	Name              string            `yaml:"name,omitempty" json:"name,omitempty"`
	Params            map[string]string `yaml:"params" json:"params"`
	Steps             []Step            `yaml:"steps" json:"steps" validate:"dive"`
	Triggers          []Trigger         `yaml:"triggers" json:"triggers" validate:"dive"`
	FailureConditions FailureConditions `yaml:"failureConditions" json:"failureConditions"`
	Requirements      []Requirement     `yaml:"requirements" json:"requirements" validate:"dive"`
	Features          []Feature         `yaml:"features" json:"features" validate:"dive"`
}

type Step struct {
	ID         string            `yaml:"id" json:"id" validate:"required"`
	Name       string            `yaml:"name,omitempty" json:"name,omitempty"`
	Type       string            `yaml:"type" json:"type" validate:"required"`
	Properties map[string]string `yaml:"properties,omitempty" json:"properties,omitempty"`
}

type Trigger struct {
	ID         string            `yaml:"id" json:"id" validate:"required"`
	Type       string            `yaml:"type" json:"type" validate:"required"`
	Properties map[string]string `yaml:"properties,omitempty" json:"properties,omitempty"`
}

type Feature struct {
	ID         string            `yaml:"id" json:"id" validate:"required"`
	Type       string            `yaml:"type" json:"type" validate:"required"`
	Properties map[string]string `yaml:"properties,omitempty" json:"properties,omitempty"`
}

type Requirement struct {
	Name     string `yaml:"name" json:"name" validate:"required"`
	Operator string `yaml:"operator" json:"operator" validate:"required"`
	Value    string `yaml:"value,omitempty" json:"value,omitempty"`
}

// FailureConditions is merged field by field; zero values mean "not set".
type FailureConditions struct {
	ExecutionTimeoutMin int  `yaml:"executionTimeoutMin,omitempty" json:"executionTimeoutMin,omitempty" validate:"gte=0"`
	NonZeroExitCode     *bool `yaml:"nonZeroExitCode,omitempty" json:"nonZeroExitCode,omitempty"`
	ErrorMessage        *bool `yaml:"errorMessage,omitempty" json:"errorMessage,omitempty"`
}

type Axis struct {
	Name   string   `yaml:"name" json:"name" validate:"required,axisname"`
	Values []string `yaml:"values" json:"values" validate:"required,min=1"`
}

type Build struct {
	ID                string             `yaml:"id" json:"id" validate:"required"`
	Name              string             `yaml:"name,omitempty" json:"name,omitempty"`
	Templates         []string           `yaml:"templates" json:"templates"`
	Params            map[string]string  `yaml:"params" json:"params"`
	Steps             []Step             `yaml:"steps" json:"steps" validate:"dive"`
	StepsOrder        []string           `yaml:"stepsOrder,omitempty" json:"stepsOrder,omitempty"`
	Triggers          []Trigger          `yaml:"triggers" json:"triggers" validate:"dive"`
	Requirements      []Requirement      `yaml:"requirements" json:"requirements" validate:"dive"`
	Features          []Feature          `yaml:"features" json:"features" validate:"dive"`
	FailureConditions *FailureConditions `yaml:"failureConditions,omitempty" json:"failureConditions,omitempty"`
	ArtifactRules     string             `yaml:"artifactRules,omitempty" json:"artifactRules,omitempty"`
	Matrix            []Axis             `yaml:"matrix,omitempty" json:"matrix,omitempty" validate:"dive"`
}

type Stage struct {
	Name              string            `yaml:"name" json:"name" validate:"required"`
	Builds            []Build           `yaml:"builds" json:"builds" validate:"dive"`
	FailureConditions FailureConditions `yaml:"failureConditions" json:"failureConditions"`
}

// DefaultStage names the stage legacy flat build lists compile into.
const DefaultStage = "default"
