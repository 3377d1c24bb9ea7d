package app

import (
	"context"
	"errors"
)

// ErrInvalidRequest marks caller input the adapters should report as a 400.
var ErrInvalidRequest = errors.New("invalid request")

// ApplicationService is the single interface the web and CLI adapters call.
// Implementations hold no presentation logic.
type ApplicationService interface {
	// RunReconciliation executes one reconciliation pass, optionally scoped to one organization.
	RunReconciliation(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error)

	// RunWatchdog scans sent orders for delivery SLA breaches.
	RunWatchdog(ctx context.Context) (*WatchdogResult, error)

	// EvaluatePolicy runs the reorder policy on caller-supplied numbers without touching the datastore.
	EvaluatePolicy(req EvaluateRequest) (*EvaluateResult, error)

	// Health reports whether the datastore is reachable.
	Health(ctx context.Context) error
}
