package web

import (
	"net/http"

	"reorder-engine/internal/app"
	"reorder-engine/internal/core"
)

// reconcile handles POST /api/reorder/reconcile. The body is optional.
func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	var req app.ReconcileRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	res, err := h.svc.RunReconciliation(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, "reconciliation", err)
		return
	}
	w.Header().Set("X-Run-ID", res.RunID.String())
	writeJSON(w, res.Stats)
}

// watchdog handles POST /api/reorder/watchdog. Any body is ignored.
func (h *Handler) watchdog(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.RunWatchdog(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "watchdog", err)
		return
	}
	writeJSON(w, res.Stats)
}

type evaluateRequest struct {
	OnHand            float64 `json:"on_hand"`
	DailyUsage        float64 `json:"daily_usage"`
	SafetyDays        float64 `json:"safety_days"`
	ReorderQty        float64 `json:"reorder_qty"`
	EmergencyOverride bool    `json:"emergency_override"`
	AutomationMode    string  `json:"automation_mode"`
	LateDeliveries    int     `json:"late_deliveries"`
	EmergencyOrders   int     `json:"emergency_orders"`
}

// evaluate handles POST /api/reorder/evaluate: a side-effect-free policy decision.
func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	res, err := h.svc.EvaluatePolicy(app.EvaluateRequest{
		OnHand:            req.OnHand,
		DailyUsage:        req.DailyUsage,
		SafetyDays:        req.SafetyDays,
		ReorderQty:        req.ReorderQty,
		EmergencyOverride: req.EmergencyOverride,
		AutomationMode:    req.AutomationMode,
		LateDeliveries:    req.LateDeliveries,
		EmergencyOrders:   req.EmergencyOrders,
	})
	if err != nil {
		h.writeServiceError(w, r, "evaluate", err)
		return
	}
	writeJSON(w, struct {
		AutomationMode core.AutomationMode `json:"automation_mode"`
		core.Decision
	}{res.Input.AutomationMode, res.Decision})
}
