package config

import "fmt"

// Validate performs comprehensive validation of all sections
// (fail-fast — stops at first error).
func Validate(cfg *Config) error {
	if err := validateQueue(cfg.Queue); err != nil {
		return err
	}
	if err := validateOrchestrator(cfg.Orchestrator); err != nil {
		return err
	}
	if err := validateStore(cfg.Store); err != nil {
		return err
	}
	if err := validateSecurity(cfg.Security); err != nil {
		return err
	}
	if err := validateEvents(cfg.Events); err != nil {
		return err
	}
	if err := validateVerdict(cfg.Verdict); err != nil {
		return err
	}
	return nil
}

func validateQueue(q *QueueConfig) error {
	if q == nil {
		return NewValidationError("queue", "", fmt.Errorf("queue configuration is nil"))
	}
	if q.Capacity < 1 {
		return NewValidationError("queue", "capacity", fmt.Errorf("must be at least 1"))
	}
	if q.MaxDescriptionLen < 1 {
		return NewValidationError("queue", "max_description_len", fmt.Errorf("must be at least 1"))
	}
	if q.MaxMetadataBytes < 0 {
		return NewValidationError("queue", "max_metadata_bytes", fmt.Errorf("must not be negative"))
	}
	if len(q.AllowedTaskTypes) == 0 {
		return NewValidationError("queue", "allowed_task_types", fmt.Errorf("at least one task type required"))
	}
	if q.StarvationThreshold <= 0 {
		return NewValidationError("queue", "starvation_threshold", fmt.Errorf("must be positive"))
	}
	return nil
}

func validateOrchestrator(o *OrchestratorConfig) error {
	if o == nil {
		return NewValidationError("orchestrator", "", fmt.Errorf("orchestrator configuration is nil"))
	}
	if o.DispatchInterval <= 0 {
		return NewValidationError("orchestrator", "dispatch_interval", fmt.Errorf("must be positive"))
	}
	if o.AckWindow <= 0 {
		return NewValidationError("orchestrator", "ack_window", fmt.Errorf("must be positive"))
	}
	if o.ProgressIdle <= 0 {
		return NewValidationError("orchestrator", "progress_idle", fmt.Errorf("must be positive"))
	}
	if o.MaxExtension < 0 {
		return NewValidationError("orchestrator", "max_extension", fmt.Errorf("must not be negative"))
	}
	if o.GracefulShutdownTimeout <= 0 {
		return NewValidationError("orchestrator", "graceful_shutdown_timeout", fmt.Errorf("must be positive"))
	}
	return nil
}

func validateStore(s *StoreConfig) error {
	if s == nil {
		return NewValidationError("store", "", fmt.Errorf("store configuration is nil"))
	}
	if s.Breaker.FailureThreshold < 1 {
		return NewValidationError("store", "breaker.failure_threshold", fmt.Errorf("must be at least 1"))
	}
	if s.Breaker.Cooldown <= 0 {
		return NewValidationError("store", "breaker.cooldown", fmt.Errorf("must be positive"))
	}
	if s.Retry.MaxAttempts < 1 {
		return NewValidationError("store", "retry.max_attempts", fmt.Errorf("must be at least 1"))
	}
	if s.Retry.Multiplier < 1 {
		return NewValidationError("store", "retry.multiplier", fmt.Errorf("must be at least 1"))
	}
	if s.Retry.BaseDelay <= 0 || s.Retry.MaxDelay < s.Retry.BaseDelay {
		return NewValidationError("store", "retry", fmt.Errorf("base_delay must be positive and max_delay >= base_delay"))
	}
	if s.ShadowCapacity < 1 {
		return NewValidationError("store", "shadow_capacity", fmt.Errorf("must be at least 1"))
	}
	if s.PendingWriteCapacity < 1 {
		return NewValidationError("store", "pending_write_capacity", fmt.Errorf("must be at least 1"))
	}
	if s.ProbeInterval <= 0 {
		return NewValidationError("store", "probe_interval", fmt.Errorf("must be positive"))
	}
	if s.OpTimeout <= 0 {
		return NewValidationError("store", "op_timeout", fmt.Errorf("must be positive"))
	}
	return nil
}

func validateSecurity(s *SecurityConfig) error {
	if s == nil {
		return NewValidationError("security", "", fmt.Errorf("security configuration is nil"))
	}
	if err := validateRateLimit("rate_limit", s.RateLimit); err != nil {
		return err
	}
	for op, rl := range s.PerOpRateLimits {
		if err := validateRateLimit("per_op_rate_limits."+op, rl); err != nil {
			return err
		}
	}
	return nil
}

func validateRateLimit(field string, rl RateLimitConfig) error {
	if rl.Capacity < 1 {
		return NewValidationError("security", field+".capacity", fmt.Errorf("must be at least 1"))
	}
	if rl.RefillPerSec <= 0 {
		return NewValidationError("security", field+".refill_per_sec", fmt.Errorf("must be positive"))
	}
	return nil
}

func validateEvents(e *EventsConfig) error {
	if e == nil {
		return NewValidationError("events", "", fmt.Errorf("events configuration is nil"))
	}
	if e.BufferSize < 1 {
		return NewValidationError("events", "buffer_size", fmt.Errorf("must be at least 1"))
	}
	if e.RetainPerTopic < 0 {
		return NewValidationError("events", "retain_per_topic", fmt.Errorf("must not be negative"))
	}
	if e.Sink.Enabled {
		if e.Sink.Dir == "" {
			return NewValidationError("events", "sink.dir", fmt.Errorf("required when sink is enabled"))
		}
		if e.Sink.RotateMB < 1 {
			return NewValidationError("events", "sink.rotate_mb", fmt.Errorf("must be at least 1"))
		}
		if e.Sink.RetentionDays < 1 {
			return NewValidationError("events", "sink.retention_days", fmt.Errorf("must be at least 1"))
		}
	}
	return nil
}

func validateVerdict(v *VerdictConfig) error {
	if v == nil {
		return NewValidationError("verdict", "", fmt.Errorf("verdict configuration is nil"))
	}
	if v.FallbackScore < 0 || v.FallbackScore > 1 {
		return NewValidationError("verdict", "fallback_score", fmt.Errorf("must be within [0,1]"))
	}
	return nil
}
