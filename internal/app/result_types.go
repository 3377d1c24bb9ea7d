package app

import (
	"time"

	"github.com/google/uuid"

	"reorder-engine/internal/core"
)

// ReconcileResult is returned by RunReconciliation.
type ReconcileResult struct {
	RunID      uuid.UUID
	Mode       core.RunMode
	StartedAt  time.Time
	FinishedAt time.Time
	Stats      core.RunStats
	Items      []ItemSummary
}

// ItemSummary is the display view of one core.ItemResult.
type ItemSummary struct {
	RuleID        uuid.UUID
	ProductID     uuid.UUID
	LocationID    uuid.UUID
	Outcome       core.ItemOutcome
	Action        core.Action
	DaysRemaining float64
	Confidence    float64
	CapExceeded   bool
	OrderID       *uuid.UUID
	Error         string
}

// WatchdogResult is returned by RunWatchdog.
type WatchdogResult struct {
	Stats core.WatchdogStats
}

// EvaluateResult is returned by EvaluatePolicy.
type EvaluateResult struct {
	Input    core.PolicyInput
	Decision core.Decision
}
