// Package cli is the reconcilectl command tree: on-demand recomputes and
// inspection against the configured store, without going through HTTP.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"milestone-reconciler/internal/config"
	pkgconfig "milestone-reconciler/pkg/config"
	"milestone-reconciler/pkg/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	env       string
	configDir string
	asJSON    bool
	verbose   bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "reconcilectl",
		Short:         "Recompute and inspect milestone progress",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.env, "env", pkgconfig.GetConfigEnv(), "Configuration environment (local, production)")
	root.PersistentFlags().StringVar(&opts.configDir, "config-dir", pkgconfig.GetEnv("CONFIG_DIR", "config"), "Directory holding base.yaml and <env>.yaml")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Print machine-readable JSON")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log engine activity to stderr")

	root.AddCommand(newRecomputeCmd(opts))
	root.AddCommand(newDueCmd(opts))
	root.AddCommand(newTokenCmd(opts))
	return root
}

// Execute runs the command tree.
func Execute() error {
	return NewRootCmd().Execute()
}

func (o *options) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFrom(o.env, o.configDir)
	if err != nil {
		return nil, nil, err
	}
	if !o.verbose {
		return cfg, zap.NewNop(), nil
	}
	return cfg, logger.NewLogger(cfg.LogLevel), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(w io.Writer, symbol, message string, attr color.Attribute) {
	fmt.Fprintf(w, "%s %s\n", color.New(attr).Sprint(symbol), message)
}
