package app

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"reorder-engine/internal/core"
)

// ReconcileRequest is the input for RunReconciliation. Both fields are optional:
// an empty OrganizationID covers every organization, an empty RunMode means EXECUTE.
type ReconcileRequest struct {
	OrganizationID string `json:"organization_id,omitempty"`
	RunMode        string `json:"run_mode,omitempty"`
}

func (r ReconcileRequest) toRunRequest() (core.RunRequest, error) {
	mode, err := core.ParseRunMode(r.RunMode)
	if err != nil {
		return core.RunRequest{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	out := core.RunRequest{Mode: mode}
	if org := strings.TrimSpace(r.OrganizationID); org != "" {
		id, err := uuid.Parse(org)
		if err != nil {
			return core.RunRequest{}, fmt.Errorf("%w: organization_id %q is not a UUID", ErrInvalidRequest, org)
		}
		out.OrganizationID = &id
	}
	return out, nil
}

// EvaluateRequest is the input for EvaluatePolicy.
type EvaluateRequest struct {
	OnHand            float64
	DailyUsage        float64
	SafetyDays        float64
	ReorderQty        float64
	EmergencyOverride bool
	AutomationMode    string
	LateDeliveries    int
	EmergencyOrders   int
}

func (r EvaluateRequest) toPolicyInput() (core.PolicyInput, error) {
	mode := core.AutomationMode(strings.ToUpper(strings.TrimSpace(r.AutomationMode)))
	switch mode {
	case core.ModeManual, core.ModeAssisted, core.ModeAuto:
	case "":
		mode = core.ModeManual
	default:
		return core.PolicyInput{}, fmt.Errorf("%w: automation mode %q", ErrInvalidRequest, r.AutomationMode)
	}
	if r.OnHand < 0 || r.DailyUsage < 0 || r.SafetyDays < 0 || r.ReorderQty < 0 {
		return core.PolicyInput{}, fmt.Errorf("%w: quantities must not be negative", ErrInvalidRequest)
	}
	if r.LateDeliveries < 0 || r.EmergencyOrders < 0 {
		return core.PolicyInput{}, fmt.Errorf("%w: history counts must not be negative", ErrInvalidRequest)
	}
	return core.PolicyInput{
		OnHand:               r.OnHand,
		DailyUsage:           r.DailyUsage,
		SafetyDays:           r.SafetyDays,
		ReorderQty:           r.ReorderQty,
		EmergencyOverride:    r.EmergencyOverride,
		AutomationMode:       mode,
		LateDeliveriesCount:  r.LateDeliveries,
		EmergencyOrdersCount: r.EmergencyOrders,
	}, nil
}
