package dotc

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/opnlabs/dotc/pkg/diag"
	"github.com/opnlabs/dotc/pkg/utils"
)

type rootOptions struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "dotc",
		Short: "Dotc compiles staged build pipelines",
		Long: `Dotc compiles a pipeline definition file ( default dot.yml ) into a
deterministic pipeline artifact. Templates are merged into builds, matrix
builds are expanded into concrete jobs and jobs are grouped into stages where
every job of a stage waits for the whole previous stage.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text, json or logfmt")

	cmd.AddCommand(newCompileCmd(opts))
	cmd.AddCommand(newPlanCmd(opts))
	cmd.AddCommand(versionCmd)
	return cmd
}

func (o *rootOptions) logger(cmd *cobra.Command) *log.Logger {
	return utils.NewLogger(o.logLevel, o.logFormat, cmd.ErrOrStderr())
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for errors in the definition itself and 1 for anything
// else, such as an unreadable file.
func exitCode(err error) int {
	if _, ok := diag.PhaseOf(err); ok {
		return 2
	}
	return 1
}

// parseParams reads KEY=VALUE pairs. Values may contain '='.
func parseParams(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("parameters should be defined as KEY=VALUE: %s", p)
		}
		out[k] = v
	}
	return out, nil
}
