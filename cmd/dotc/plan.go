package dotc

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/opnlabs/dotc/pkg/compiler"
	"github.com/opnlabs/dotc/pkg/loader"
	"github.com/opnlabs/dotc/pkg/models"
	"github.com/opnlabs/dotc/pkg/utils"
)

type planOptions struct {
	*rootOptions
	file   string
	params []string
}

func newPlanCmd(root *rootOptions) *cobra.Command {
	opts := &planOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the stages and jobs a definition compiles to",
		Long: `Plan compiles the definition without emitting an artifact and walks the
job graph stage by stage, the way a runtime would schedule it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "dot.yml", "Path to the pipeline definition.")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", make([]string, 0), "Override a global parameter. KEY=VALUE")
	return cmd
}

func runPlan(cmd *cobra.Command, opts *planOptions) error {
	params, err := parseParams(opts.params)
	if err != nil {
		return err
	}
	def, err := loader.Load(opts.file)
	if err != nil {
		return err
	}
	res, err := compiler.New(compiler.Options{Params: params, Logger: opts.logger(cmd)}).Plan(cmd.Context(), def)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	writers := make(map[string]io.Writer)
	for _, s := range res.Graph.Stages() {
		writers[s.Name] = utils.NewColorLogger(s.Name, out, true)
	}

	// Jobs of a stage are visited concurrently; lines are written whole.
	var mu sync.Mutex
	return res.Graph.Walk(cmd.Context(), func(ctx context.Context, job models.Job) error {
		line := job.ID
		if deps := res.Graph.DependenciesOf(job.ID); len(deps) > 0 {
			line += " <- " + strings.Join(deps, ", ")
		}
		mu.Lock()
		defer mu.Unlock()
		_, err := fmt.Fprintln(writers[job.Stage], line)
		return err
	})
}
