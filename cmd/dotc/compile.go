package dotc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opnlabs/dotc/pkg/compiler"
	"github.com/opnlabs/dotc/pkg/emit"
)

type compileOptions struct {
	*rootOptions
	file   string
	output string
	format string
	params []string
}

func newCompileCmd(root *rootOptions) *cobra.Command {
	opts := &compileOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a pipeline definition into an artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "dot.yml", "Path to the pipeline definition.")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the artifact to this file instead of stdout.")
	cmd.Flags().StringVar(&opts.format, "format", string(emit.FormatYAML), "Artifact format: yaml or json")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", make([]string, 0), "Override a global parameter. KEY=VALUE")
	return cmd
}

func runCompile(cmd *cobra.Command, opts *compileOptions) error {
	params, err := parseParams(opts.params)
	if err != nil {
		return err
	}
	logger := opts.logger(cmd)

	res, err := compiler.New(compiler.Options{
		Params: params,
		Format: emit.Format(opts.format),
		Logger: logger,
	}).CompileFile(cmd.Context(), opts.file)
	if err != nil {
		return err
	}

	if opts.output == "" {
		_, err := cmd.OutOrStdout().Write(res.Artifact)
		return err
	}
	if err := os.WriteFile(filepath.Clean(opts.output), res.Artifact, 0o644); err != nil {
		return fmt.Errorf("writing artifact: %w", err)
	}
	logger.Info("pipeline compiled", "output", opts.output, "stages", len(res.Pipeline.Stages), "jobs", len(res.Pipeline.Jobs))
	color.New(color.FgGreen).Fprintf(cmd.ErrOrStderr(), "%s %s\n", res.Pipeline.PipelineID, res.Pipeline.Digest)
	return nil
}
