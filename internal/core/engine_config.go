package core

import (
	"fmt"
	"time"
)

// EngineConfig holds the tunables of the decision loop. Start from DefaultEngineConfig
// and override fields; WithDefaults only repairs fields whose zero value is unusable.
type EngineConfig struct {
	Epsilon                float64       `yaml:"epsilon"`
	LateDeliveryWeight     float64       `yaml:"late_delivery_weight"`
	EmergencyOrderWeight   float64       `yaml:"emergency_order_weight"`
	ConfidenceFloor        float64       `yaml:"confidence_floor"`
	ConfidenceCeiling      float64       `yaml:"confidence_ceiling"`
	EmergencyDaysThreshold float64       `yaml:"emergency_days_threshold"`
	IdempotencyWindow      time.Duration `yaml:"idempotency_window"`
	ReliabilityWindow      time.Duration `yaml:"reliability_window"`
	DefaultLeadTimeHours   int           `yaml:"default_lead_time_hours"`
	NotifyConcurrency      int           `yaml:"notify_concurrency"`
	NotifyTimeout          time.Duration `yaml:"notify_timeout"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Epsilon:                0.0001,
		LateDeliveryWeight:     0.15,
		EmergencyOrderWeight:   0.05,
		ConfidenceFloor:        0.5,
		ConfidenceCeiling:      1.0,
		EmergencyDaysThreshold: 1.0,
		IdempotencyWindow:      24 * time.Hour,
		ReliabilityWindow:      30 * 24 * time.Hour,
		DefaultLeadTimeHours:   48,
		NotifyConcurrency:      4,
		NotifyTimeout:          30 * time.Second,
	}
}

// WithDefaults returns c with every field whose zero value is unusable taken from
// DefaultEngineConfig. Weights and the emergency threshold are kept as given: zero is a
// legitimate setting for them.
func (c EngineConfig) WithDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.Epsilon <= 0 {
		c.Epsilon = d.Epsilon
	}
	if c.ConfidenceFloor <= 0 {
		c.ConfidenceFloor = d.ConfidenceFloor
	}
	if c.ConfidenceCeiling <= 0 {
		c.ConfidenceCeiling = d.ConfidenceCeiling
	}
	if c.ConfidenceFloor > c.ConfidenceCeiling {
		c.ConfidenceFloor = c.ConfidenceCeiling
	}
	if c.IdempotencyWindow <= 0 {
		c.IdempotencyWindow = d.IdempotencyWindow
	}
	if c.ReliabilityWindow <= 0 {
		c.ReliabilityWindow = d.ReliabilityWindow
	}
	if c.DefaultLeadTimeHours <= 0 {
		c.DefaultLeadTimeHours = d.DefaultLeadTimeHours
	}
	if c.NotifyConcurrency <= 0 {
		c.NotifyConcurrency = d.NotifyConcurrency
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = d.NotifyTimeout
	}
	return c
}

// Validate rejects settings that would make the policy meaningless.
func (c EngineConfig) Validate() error {
	switch {
	case c.LateDeliveryWeight < 0 || c.EmergencyOrderWeight < 0:
		return fmt.Errorf("%w: confidence weights must not be negative", ErrInvalidEngineConfig)
	case c.EmergencyDaysThreshold < 0:
		return fmt.Errorf("%w: emergency_days_threshold must not be negative", ErrInvalidEngineConfig)
	case c.ConfidenceFloor > 1 || c.ConfidenceCeiling > 1:
		return fmt.Errorf("%w: confidence bounds must be at most 1", ErrInvalidEngineConfig)
	case c.ConfidenceFloor > 0 && c.ConfidenceCeiling > 0 && c.ConfidenceFloor > c.ConfidenceCeiling:
		return fmt.Errorf("%w: confidence_floor exceeds confidence_ceiling", ErrInvalidEngineConfig)
	}
	return nil
}
