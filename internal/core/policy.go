package core

import "math"

// PolicyInput is the per-item snapshot the policy evaluates.
type PolicyInput struct {
	OnHand               float64
	DailyUsage           float64
	SafetyDays           float64
	ReorderQty           float64
	EmergencyOverride    bool
	AutomationMode       AutomationMode
	LateDeliveriesCount  int
	EmergencyOrdersCount int
}

// Decision is the result of evaluating the reorder policy for one item.
type Decision struct {
	ShouldReorder      bool    `json:"should_reorder"`
	IsEmergency        bool    `json:"is_emergency"`
	Action             Action  `json:"action"`
	DaysRemaining      float64 `json:"days_remaining"`
	Quantity           float64 `json:"quantity"`
	ConfidenceScore    float64 `json:"confidence_score"`
	AdjustedSafetyDays float64 `json:"adjusted_safety_days"`
}

// EvaluatePolicy maps a snapshot to a reorder decision. It has no side effects and is
// total over its input: zero usage is floored at cfg.Epsilon.
//
// An emergency (override set and at most cfg.EmergencyDaysThreshold days of stock left)
// always resolves to ActionSent, whatever the automation mode.
func EvaluatePolicy(cfg EngineConfig, in PolicyInput) Decision {
	cfg = cfg.WithDefaults()

	usage := math.Max(in.DailyUsage, cfg.Epsilon)
	daysRemaining := in.OnHand / usage
	confidence := ConfidenceScore(cfg, in.LateDeliveriesCount, in.EmergencyOrdersCount)
	adjusted := math.Max(in.SafetyDays, 0) / confidence

	d := Decision{
		DaysRemaining:      daysRemaining,
		ConfidenceScore:    confidence,
		AdjustedSafetyDays: adjusted,
		ShouldReorder:      daysRemaining < adjusted,
		Action:             ActionNone,
	}

	if in.EmergencyOverride && daysRemaining <= cfg.EmergencyDaysThreshold {
		d.IsEmergency = true
		d.ShouldReorder = true
		d.Action = ActionSent
		d.Quantity = in.ReorderQty
		return d
	}

	if !d.ShouldReorder {
		return d
	}

	d.Quantity = in.ReorderQty
	switch in.AutomationMode {
	case ModeAuto:
		d.Action = ActionSent
	case ModeAssisted:
		d.Action = ActionDraft
	default:
		d.Action = ActionAlert
	}
	return d
}

// ConfidenceScore discounts trust in the nominal safety buffer. Late deliveries weigh
// three times as much as emergency orders by default.
func ConfidenceScore(cfg EngineConfig, lateDeliveries, emergencyOrders int) float64 {
	cfg = cfg.WithDefaults()
	score := 1.0 - cfg.LateDeliveryWeight*float64(lateDeliveries) - cfg.EmergencyOrderWeight*float64(emergencyOrders)
	return math.Min(math.Max(score, cfg.ConfidenceFloor), cfg.ConfidenceCeiling)
}
