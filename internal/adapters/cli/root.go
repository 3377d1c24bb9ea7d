package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"reorder-engine/internal/app"
)

// ServiceFactory opens the application service for one command. The returned
// release func is called once the command finishes.
type ServiceFactory func(ctx context.Context) (app.ApplicationService, func(), error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the reorderctl command tree.
func NewRootCommand(factory ServiceFactory) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "reorderctl",
		Short: "Run and inspect the reorder engine",
		Long:  "Trigger reconciliation and watchdog passes, evaluate the reorder policy and mint scheduler tokens.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewReconcileCommand(opts, factory))
	cmd.AddCommand(NewWatchdogCommand(opts, factory))
	cmd.AddCommand(NewEvaluateCommand(opts))
	cmd.AddCommand(NewTokenCommand())

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withService opens the service, runs fn and releases it.
func withService(cmd *cobra.Command, factory ServiceFactory, fn func(app.ApplicationService) error) error {
	svc, release, err := factory(cmd.Context())
	if err != nil {
		return err
	}
	if release != nil {
		defer release()
	}
	return fn(svc)
}
