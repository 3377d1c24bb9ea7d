package app

import (
	"context"
	"fmt"

	"reorder-engine/internal/core"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type appService struct {
	runner   *core.ReconciliationRunner
	watchdog *core.DeliveryWatchdog
	cfg      core.EngineConfig
	db       Pinger
}

// NewAppService constructs an appService that satisfies ApplicationService.
// db may be nil when the engine runs without a database (tests, local dry runs).
func NewAppService(runner *core.ReconciliationRunner, watchdog *core.DeliveryWatchdog, cfg core.EngineConfig, db Pinger) ApplicationService {
	return &appService{
		runner:   runner,
		watchdog: watchdog,
		cfg:      cfg.WithDefaults(),
		db:       db,
	}
}

// RunReconciliation validates the request and runs one pass.
func (s *appService) RunReconciliation(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	runReq, err := req.toRunRequest()
	if err != nil {
		return nil, err
	}

	report, err := s.runner.Run(ctx, runReq)
	if err != nil {
		return nil, fmt.Errorf("reconciliation run: %w", err)
	}

	res := &ReconcileResult{
		RunID:      report.RunID,
		Mode:       report.Mode,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Stats:      report.Stats,
		Items:      make([]ItemSummary, 0, len(report.Items)),
	}
	for _, it := range report.Items {
		sum := ItemSummary{
			RuleID:        it.RuleID,
			ProductID:     it.ProductID,
			LocationID:    it.LocationID,
			Outcome:       it.Outcome,
			Action:        it.Decision.Action,
			DaysRemaining: it.Decision.DaysRemaining,
			Confidence:    it.Decision.ConfidenceScore,
			CapExceeded:   it.CapExceeded,
			OrderID:       it.OrderID,
		}
		if it.Err != nil {
			sum.Error = it.Err.Error()
		}
		res.Items = append(res.Items, sum)
	}
	return res, nil
}

// RunWatchdog runs one delivery SLA scan.
func (s *appService) RunWatchdog(ctx context.Context) (*WatchdogResult, error) {
	stats, err := s.watchdog.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("watchdog run: %w", err)
	}
	return &WatchdogResult{Stats: *stats}, nil
}

// EvaluatePolicy runs the policy on the given snapshot.
func (s *appService) EvaluatePolicy(req EvaluateRequest) (*EvaluateResult, error) {
	in, err := req.toPolicyInput()
	if err != nil {
		return nil, err
	}
	return &EvaluateResult{Input: in, Decision: core.EvaluatePolicy(s.cfg, in)}, nil
}

func (s *appService) Health(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}
