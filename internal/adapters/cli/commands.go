package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reorder-engine/internal/adapters/web"
	"reorder-engine/internal/app"
	"reorder-engine/internal/config"
	"reorder-engine/internal/core"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions, factory ServiceFactory) *cobra.Command {
	var (
		org    string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass over the active reorder rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := app.ReconcileRequest{OrganizationID: org, RunMode: string(core.RunModeExecute)}
			if dryRun {
				req.RunMode = string(core.RunModeDryRun)
			}
			return withService(cmd, factory, func(svc app.ApplicationService) error {
				res, err := svc.RunReconciliation(cmd.Context(), req)
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), res.Stats)
				}
				printRunResult(cmd.OutOrStdout(), res, rootOpts.Verbose)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "limit the pass to one organization ID")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate without writing anything")
	return cmd
}

// NewWatchdogCommand creates the watchdog command.
func NewWatchdogCommand(rootOpts *RootOptions, factory ServiceFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "watchdog",
		Short: "Scan SENT orders for delivery SLA breaches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, factory, func(svc app.ApplicationService) error {
				res, err := svc.RunWatchdog(cmd.Context())
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), res.Stats)
				}
				s := res.Stats
				fmt.Fprintf(cmd.OutOrStdout(), "checked=%d breaches=%d alerts_created=%d errors=%d\n",
					s.Checked, s.SLABreaches, s.AlertsCreated, s.Errors)
				return nil
			})
		},
	}
}

// NewEvaluateCommand creates the evaluate command. It only needs the engine tuning,
// so it never opens the service factory.
func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		req        app.EvaluateRequest
		engineFile string
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate the reorder policy for a stock snapshot",
		Long: `Evaluate the reorder policy for a stock snapshot without touching the database.

Example:
  reorderctl evaluate --on-hand 2 --daily-usage 1.5 --safety-days 3 --reorder-qty 10 --mode AUTO`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if engineFile == "" {
				engineFile = config.String("ENGINE_CONFIG_FILE", "")
			}
			engineCfg, err := config.LoadEngineConfig(engineFile)
			if err != nil {
				return err
			}
			res, err := app.NewAppService(nil, nil, engineCfg, nil).EvaluatePolicy(req)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), res.Decision)
			}
			d := res.Decision
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "action:          %s\n", d.Action)
			fmt.Fprintf(w, "should reorder:  %t\n", d.ShouldReorder)
			fmt.Fprintf(w, "emergency:       %t\n", d.IsEmergency)
			fmt.Fprintf(w, "days remaining:  %.2f (threshold %.2f)\n", d.DaysRemaining, d.AdjustedSafetyDays)
			fmt.Fprintf(w, "quantity:        %g\n", d.Quantity)
			fmt.Fprintf(w, "confidence:      %.2f\n", d.ConfidenceScore)
			return nil
		},
	}
	cmd.Flags().StringVar(&engineFile, "engine-config", "", "engine tuning YAML (defaults to ENGINE_CONFIG_FILE)")
	cmd.Flags().Float64Var(&req.OnHand, "on-hand", 0, "quantity on hand")
	cmd.Flags().Float64Var(&req.DailyUsage, "daily-usage", 0, "average daily usage")
	cmd.Flags().Float64Var(&req.SafetyDays, "safety-days", 0, "days of cover to keep")
	cmd.Flags().Float64Var(&req.ReorderQty, "reorder-qty", 0, "quantity to order")
	cmd.Flags().BoolVar(&req.EmergencyOverride, "emergency-override", false, "allow emergency orders")
	cmd.Flags().StringVar(&req.AutomationMode, "mode", string(core.ModeManual), "automation mode (MANUAL|ASSISTED|AUTO)")
	cmd.Flags().IntVar(&req.LateDeliveries, "late-deliveries", 0, "late deliveries in the reliability window")
	cmd.Flags().IntVar(&req.EmergencyOrders, "emergency-orders", 0, "emergency orders in the reliability window")
	return cmd
}

// NewTokenCommand creates the token command, which mints a bearer token for the HTTP triggers.
func NewTokenCommand() *cobra.Command {
	var (
		secret  string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a scheduler token for the reconcile and watchdog endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = config.String("SCHEDULER_JWT_SECRET", "")
			}
			if secret == "" {
				return fmt.Errorf("no secret: pass --secret or set SCHEDULER_JWT_SECRET")
			}
			tok, err := web.IssueSchedulerToken(secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 secret (defaults to SCHEDULER_JWT_SECRET)")
	cmd.Flags().StringVar(&subject, "subject", "scheduler", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func printRunResult(w io.Writer, res *app.ReconcileResult, verbose bool) {
	s := res.Stats
	fmt.Fprintf(w, "run %s (%s) finished in %s\n", res.RunID, res.Mode, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "processed=%d alerts=%d drafts=%d sent=%d skipped=%d errors=%d\n",
		s.Processed, s.Alerts, s.Drafts, s.Sent, s.SkippedIdempotency, s.Errors)
	if !verbose || len(res.Items) == 0 {
		return
	}
	fmt.Fprintln(w, strings.Repeat("-", 78))
	fmt.Fprintf(w, "%-10s %-10s %-21s %8s %6s  %s\n", "PRODUCT", "LOCATION", "OUTCOME", "DAYS", "CONF", "NOTE")
	for _, it := range res.Items {
		note := it.Error
		if it.CapExceeded {
			note = "cap exceeded, held as draft"
		}
		if it.OrderID != nil && note == "" {
			note = "order " + it.OrderID.String()
		}
		fmt.Fprintf(w, "%-10s %-10s %-21s %8.2f %6.2f  %s\n",
			it.ProductID.String()[:8], it.LocationID.String()[:8], it.Outcome, it.DaysRemaining, it.Confidence, note)
	}
}
