package compiler

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opnlabs/dotc/pkg/diag"
	"github.com/opnlabs/dotc/pkg/emit"
	"github.com/opnlabs/dotc/pkg/models"
)

func baseDefinition() *models.Definition {
	return &models.Definition{
		Project: models.Project{ID: "GradleTeamcityPlugin"},
		VCS:     models.VCSRoot{URL: "https://github.com/rodm/gradle-teamcity-plugin.git"},
		Params: map[string]string{
			"java8.home":  "/opt/jdk8",
			"java11.home": "/opt/jdk11",
		},
		Templates: []models.Template{{
			ID: "Build",
			Params: map[string]string{
				"gradle.tasks": "clean build",
				"java.home":    "%java8.home%",
			},
			Steps: []models.Step{{
				ID:         "GRADLE_BUILD",
				Type:       "gradle",
				Properties: map[string]string{"tasks": "%gradle.tasks%", "jdkHome": "%java.home%"},
			}},
			FailureConditions: models.FailureConditions{ExecutionTimeoutMin: 10},
		}},
	}
}

func TestCompileStagedExample(t *testing.T) {
	var logs bytes.Buffer
	logger := log.NewWithOptions(&logs, log.Options{Level: log.DebugLevel})

	res, err := New(Options{Logger: logger}).CompileFile(context.Background(), "testdata/staged.yml")
	require.NoError(t, err)
	assert.Equal(t, StateEmitted, res.State)

	stages := res.Graph.Stages()
	require.Len(t, stages, 3)
	assert.Equal(t, []string{"BuildJava8", "BuildJava11"}, stages[0].JobIDs)
	assert.Equal(t, []string{
		"BuildFunctionalTestJava8",
		"BuildFunctionalTestJava9",
		"BuildFunctionalTestJava10",
		"BuildFunctionalTestJava11",
		"BuildFunctionalTestJava12",
		"BuildFunctionalTestJava13",
		"BuildSamplesTestJava8",
	}, stages[1].JobIDs)
	assert.Equal(t, []string{"ReportCodeQuality"}, stages[2].JobIDs)
	assert.Len(t, res.Graph.Jobs(), 10)

	j12, ok := res.Graph.Job("BuildFunctionalTestJava12")
	require.True(t, ok)
	assert.Equal(t, "%java12.home%", j12.Params["java.home"])
	assert.Equal(t, "5.4", j12.Params["gradle.version"])
	require.Len(t, j12.Steps, 2)
	assert.Equal(t, "SWITCH_GRADLE", j12.Steps[0].ID)
	assert.Equal(t, "./gradlew wrapper --gradle-version 5.4", j12.Steps[0].Properties["script"])
	assert.Equal(t, "clean functionalTest", j12.Steps[1].Properties["tasks"])
	assert.Equal(t, "%java12.home%", j12.Steps[1].Properties["jdkHome"])

	samples, _ := res.Graph.Job("BuildSamplesTestJava8")
	assert.Equal(t, 15, samples.FailureConditions.ExecutionTimeoutMin)
	assert.Equal(t, "samples/**/build/distributions/*.zip", samples.ArtifactRules)

	java13, _ := res.Graph.Job("BuildFunctionalTestJava13")
	assert.Equal(t, 10, java13.FailureConditions.ExecutionTimeoutMin, "stage default only fills unset fields")

	report, _ := res.Graph.Job("ReportCodeQuality")
	assert.Equal(t, "%sonar.opts%", report.Params["gradle.opts"])
	assert.Equal(t, 10, report.FailureConditions.ExecutionTimeoutMin)
	assert.Equal(t, stages[1].JobIDs, res.Graph.DependenciesOf("ReportCodeQuality"))

	assert.Contains(t, string(res.Artifact), "pipelineId: ")
	assert.Contains(t, logs.String(), "phase complete")
	assert.Contains(t, logs.String(), "templates registered")
}

func TestCompileIsReproducible(t *testing.T) {
	first, err := New(Options{}).CompileFile(context.Background(), "testdata/staged.yml")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := New(Options{}).CompileFile(context.Background(), "testdata/staged.yml")
		require.NoError(t, err)
		assert.Equal(t, string(first.Artifact), string(again.Artifact))
	}
}

func TestCompileLegacyBuildList(t *testing.T) {
	res, err := New(Options{Format: emit.FormatJSON}).CompileFile(context.Background(), "testdata/legacy.jsonc")
	require.NoError(t, err)

	stages := res.Graph.Stages()
	require.Len(t, stages, 1)
	assert.Equal(t, models.DefaultStage, stages[0].Name)

	j8, _ := res.Graph.Job("BuildJava8")
	j11, _ := res.Graph.Job("BuildJava11")
	assert.Equal(t, "/opt/jdk8", j8.Params["java.home"])
	assert.Equal(t, "/opt/jdk11", j11.Params["java.home"])
	assert.Equal(t, "/opt/jdk11", j11.Steps[0].Properties["jdkHome"])
	assert.True(t, strings.HasPrefix(string(res.Artifact), "{"))
}

func TestCompileJavaMatrixResolvesScopedParameter(t *testing.T) {
	def := baseDefinition()
	def.Stages = []models.Stage{{
		Name: "test",
		Builds: []models.Build{{
			ID:        "BuildFunctionalTestJava${Java}",
			Templates: []string{"Build"},
			Params:    map[string]string{"java.home": "%java${Java}.home%"},
			Matrix:    []models.Axis{{Name: "Java", Values: []string{"8", "11"}}},
		}},
	}}

	res, err := New(Options{}).Compile(context.Background(), def)
	require.NoError(t, err)

	jobs := res.Graph.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "BuildFunctionalTestJava8", jobs[0].ID)
	assert.Equal(t, "/opt/jdk8", jobs[0].Params["java.home"])
	assert.Equal(t, "BuildFunctionalTestJava11", jobs[1].ID)
	assert.Equal(t, "/opt/jdk11", jobs[1].Params["java.home"])
	assert.Equal(t, "/opt/jdk11", jobs[1].Steps[0].Properties["jdkHome"])
	assert.NotContains(t, jobs[0].Params, "java11.home", "job params hold only job scoped names")
}

func TestCompileBuildOverrideWins(t *testing.T) {
	def := baseDefinition()
	def.Builds = []models.Build{{
		ID:        "BuildFunctionalTestJava8",
		Templates: []string{"Build"},
		Params:    map[string]string{"gradle.tasks": "clean functionalTest"},
	}}

	res, err := New(Options{}).Compile(context.Background(), def)
	require.NoError(t, err)
	job, _ := res.Graph.Job("BuildFunctionalTestJava8")
	assert.Equal(t, "clean functionalTest", job.Params["gradle.tasks"])
	assert.Equal(t, "clean functionalTest", job.Steps[0].Properties["tasks"])
}

func TestCompileParamOverrides(t *testing.T) {
	def := baseDefinition()
	def.Builds = []models.Build{{ID: "BuildJava8", Templates: []string{"Build"}}}

	res, err := New(Options{Params: map[string]string{"java8.home": "/usr/lib/jvm/8"}}).Compile(context.Background(), def)
	require.NoError(t, err)
	job, _ := res.Graph.Job("BuildJava8")
	assert.Equal(t, "/usr/lib/jvm/8", job.Params["java.home"])
	assert.Equal(t, "/usr/lib/jvm/8", res.Settings.Params["java8.home"])
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Definition)
		format emit.Format
		kind   error
		phase  diag.Phase
		entity string
	}{
		{
			name: "cyclic global parameter",
			mutate: func(d *models.Definition) {
				d.Params["a"] = "%b%"
				d.Params["b"] = "%a%"
				d.Builds = []models.Build{{ID: "B"}}
			},
			kind: diag.ErrCyclicParameter, phase: diag.PhaseParameters, entity: "GradleTeamcityPlugin",
		},
		{
			name: "unresolved job parameter",
			mutate: func(d *models.Definition) {
				d.Builds = []models.Build{{ID: "ReportCodeQuality", Templates: []string{"Build"}, Params: map[string]string{"gradle.opts": "%sonar.opts%"}}}
			},
			kind: diag.ErrUnresolvedParameter, phase: diag.PhaseParameters, entity: "ReportCodeQuality",
		},
		{
			name: "unresolved step property",
			mutate: func(d *models.Definition) {
				d.Builds = []models.Build{{ID: "Lint", Steps: []models.Step{{ID: "LINT", Type: "script", Properties: map[string]string{"script": "%lint.cmd%"}}}}}
			},
			kind: diag.ErrUnresolvedParameter, phase: diag.PhaseParameters, entity: "Lint",
		},
		{
			name: "unknown template",
			mutate: func(d *models.Definition) {
				d.Builds = []models.Build{{ID: "BuildJava8", Templates: []string{"Gradle"}}}
			},
			kind: diag.ErrUnknownTemplate, phase: diag.PhaseTemplates, entity: "BuildJava8",
		},
		{
			name: "invalid step order",
			mutate: func(d *models.Definition) {
				d.Builds = []models.Build{{ID: "BuildJava12", Templates: []string{"Build"}, StepsOrder: []string{"SWITCH_GRADLE"}}}
			},
			kind: diag.ErrInvalidStepOrder, phase: diag.PhaseTemplates, entity: "BuildJava12",
		},
		{
			name: "unknown axis token",
			mutate: func(d *models.Definition) {
				d.Builds = []models.Build{{ID: "Build${Jdk}", Matrix: []models.Axis{{Name: "Java", Values: []string{"8"}}}}}
			},
			kind: diag.ErrUnknownAxisToken, phase: diag.PhaseMatrix, entity: "Build${Jdk}",
		},
		{
			name: "duplicate across stages",
			mutate: func(d *models.Definition) {
				d.Stages = []models.Stage{
					{Name: "build", Builds: []models.Build{{ID: "BuildJava${Java}", Matrix: []models.Axis{{Name: "Java", Values: []string{"8", "11"}}}}}},
					{Name: "test", Builds: []models.Build{{ID: "BuildJava11"}}},
				}
			},
			kind: diag.ErrDuplicateJobID, phase: diag.PhaseGraph, entity: "BuildJava11",
		},
		{
			name: "axis token in a build without matrix",
			mutate: func(d *models.Definition) {
				d.Builds = []models.Build{{ID: "BuildJava${Java}", Templates: []string{"Build"}}}
			},
			kind: diag.ErrUnknownAxisToken, phase: diag.PhaseMatrix, entity: "BuildJava${Java}",
		},
		{
			name:   "empty pipeline",
			mutate: func(d *models.Definition) {},
			kind:   diag.ErrEmptyPipeline, phase: diag.PhaseGraph, entity: "GradleTeamcityPlugin",
		},
		{
			name: "duplicate stage names",
			mutate: func(d *models.Definition) {
				d.Stages = []models.Stage{
					{Name: "s", Builds: []models.Build{{ID: "A"}}},
					{Name: "s", Builds: []models.Build{{ID: "B"}}},
				}
			},
			kind: diag.ErrInvalidDefinition, phase: diag.PhaseParse, entity: "GradleTeamcityPlugin",
		},
		{
			name: "unknown artifact format",
			mutate: func(d *models.Definition) {
				d.Builds = []models.Build{{ID: "BuildJava8", Templates: []string{"Build"}}}
			},
			format: emit.Format("xml"),
			kind:   diag.ErrUnsupportedFeature, phase: diag.PhaseEmit, entity: "GradleTeamcityPlugin",
		},
		{
			name: "unsupported step type",
			mutate: func(d *models.Definition) {
				d.Builds = []models.Build{{ID: "Pack", Steps: []models.Step{{ID: "NUGET", Type: "nuget-pack"}}}}
			},
			kind: diag.ErrUnsupportedFeature, phase: diag.PhaseEmit, entity: "Pack",
		},
		{
			name: "invalid definition",
			mutate: func(d *models.Definition) {
				d.VCS.URL = ""
			},
			kind: diag.ErrInvalidDefinition, phase: diag.PhaseParse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := baseDefinition()
			tt.mutate(def)

			res, err := New(Options{Format: tt.format}).Compile(context.Background(), def)
			require.ErrorIs(t, err, tt.kind)
			assert.Nil(t, res, "no partial artifact")

			var de *diag.Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.phase, de.Phase)
			if tt.entity != "" {
				assert.Equal(t, tt.entity, de.Entity)
			}
		})
	}
}

func TestPlanStopsBeforeEmission(t *testing.T) {
	def := baseDefinition()
	def.Builds = []models.Build{{ID: "Pack", Steps: []models.Step{{ID: "NUGET", Type: "nuget-pack"}}}}

	res, err := New(Options{}).Plan(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, StateGraphBuilt, res.State)
	assert.Nil(t, res.Artifact)
}

func TestCompileDoesNotMutateDefinition(t *testing.T) {
	def := baseDefinition()
	def.Builds = []models.Build{{
		ID:        "B${Java}",
		Templates: []string{"Build"},
		Matrix:    []models.Axis{{Name: "Java", Values: []string{"8"}}},
	}}
	_, err := New(Options{}).Compile(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, "%gradle.tasks%", def.Templates[0].Steps[0].Properties["tasks"])
	assert.Equal(t, "B${Java}", def.Builds[0].ID)
}
