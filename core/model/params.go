package model

// SchedulerParams tunes the optimizer cost model and the engine rate limiter.
type SchedulerParams struct {
	AlphaPriority    map[Priority]float64 `json:"alpha_priority" yaml:"alpha_priority"`
	BetaIdle         float64              `json:"beta_idle" yaml:"beta_idle"`
	DeltaOvertime    float64              `json:"delta_overtime" yaml:"delta_overtime"`
	RescheduleWeight float64              `json:"reschedule_weight" yaml:"reschedule_weight"`
	// Quantile is the probability level used for ETA and duration, e.g. 0.8.
	Quantile          float64 `json:"quantile" yaml:"quantile"`
	MinBufferMinutes  float64 `json:"min_buffer_minutes" yaml:"min_buffer_minutes"`
	MaxBufferMinutes  float64 `json:"max_buffer_minutes" yaml:"max_buffer_minutes"`
	BufferMultiplier  float64 `json:"buffer_multiplier" yaml:"buffer_multiplier"`
	TrafficMultiplier float64 `json:"traffic_multiplier" yaml:"traffic_multiplier"`
	// EmergencySLAMinutes is the maximum acceptable wait for an emergency.
	EmergencySLAMinutes        float64 `json:"emergency_sla_minutes" yaml:"emergency_sla_minutes"`
	ReoptimizeThresholdMinutes float64 `json:"reoptimize_threshold_minutes" yaml:"reoptimize_threshold_minutes"`
	MaxReoptimizationsPerHour  int     `json:"max_reoptimizations_per_hour" yaml:"max_reoptimizations_per_hour"`
}

// DefaultSchedulerParams returns the production defaults.
func DefaultSchedulerParams() SchedulerParams {
	return SchedulerParams{
		AlphaPriority: map[Priority]float64{
			PriorityEmergency: 10,
			PriorityHigh:      3,
			PriorityNormal:    1,
			PriorityLow:       0.5,
		},
		BetaIdle:                   0.5,
		DeltaOvertime:              2,
		RescheduleWeight:           0.1,
		Quantile:                   0.8,
		MinBufferMinutes:           5,
		MaxBufferMinutes:           15,
		BufferMultiplier:           0.5,
		TrafficMultiplier:          1,
		EmergencySLAMinutes:        15,
		ReoptimizeThresholdMinutes: 2,
		MaxReoptimizationsPerHour:  20,
	}
}

// WithDefaults fills zero fields from DefaultSchedulerParams. Weights that
// are legitimately zero must be set through a ParamsPatch after the fact.
func (p SchedulerParams) WithDefaults() SchedulerParams {
	d := DefaultSchedulerParams()
	alpha := make(map[Priority]float64, len(d.AlphaPriority))
	for k, v := range d.AlphaPriority {
		alpha[k] = v
	}
	for k, v := range p.AlphaPriority {
		alpha[k] = v
	}
	p.AlphaPriority = alpha
	if p.BetaIdle == 0 {
		p.BetaIdle = d.BetaIdle
	}
	if p.DeltaOvertime == 0 {
		p.DeltaOvertime = d.DeltaOvertime
	}
	if p.RescheduleWeight == 0 {
		p.RescheduleWeight = d.RescheduleWeight
	}
	if p.Quantile <= 0 || p.Quantile > 1 {
		p.Quantile = d.Quantile
	}
	if p.MinBufferMinutes == 0 {
		p.MinBufferMinutes = d.MinBufferMinutes
	}
	if p.MaxBufferMinutes == 0 {
		p.MaxBufferMinutes = d.MaxBufferMinutes
	}
	if p.MaxBufferMinutes < p.MinBufferMinutes {
		p.MaxBufferMinutes = p.MinBufferMinutes
	}
	if p.BufferMultiplier == 0 {
		p.BufferMultiplier = d.BufferMultiplier
	}
	if p.TrafficMultiplier <= 0 {
		p.TrafficMultiplier = d.TrafficMultiplier
	}
	if p.EmergencySLAMinutes == 0 {
		p.EmergencySLAMinutes = d.EmergencySLAMinutes
	}
	if p.ReoptimizeThresholdMinutes == 0 {
		p.ReoptimizeThresholdMinutes = d.ReoptimizeThresholdMinutes
	}
	if p.MaxReoptimizationsPerHour == 0 {
		p.MaxReoptimizationsPerHour = d.MaxReoptimizationsPerHour
	}
	return p
}

// Alpha returns the delay weight for a priority.
func (p SchedulerParams) Alpha(pr Priority) float64 {
	if v, ok := p.AlphaPriority[pr]; ok {
		return v
	}
	if v, ok := p.AlphaPriority[PriorityNormal]; ok {
		return v
	}
	return 1
}

// Clone copies the params including the weight map.
func (p SchedulerParams) Clone() SchedulerParams {
	alpha := make(map[Priority]float64, len(p.AlphaPriority))
	for k, v := range p.AlphaPriority {
		alpha[k] = v
	}
	p.AlphaPriority = alpha
	return p
}

// ParamsPatch is a partial update. Nil fields are left untouched.
type ParamsPatch struct {
	AlphaPriority              map[Priority]float64 `json:"alpha_priority,omitempty"`
	BetaIdle                   *float64             `json:"beta_idle,omitempty"`
	DeltaOvertime              *float64             `json:"delta_overtime,omitempty"`
	RescheduleWeight           *float64             `json:"reschedule_weight,omitempty"`
	Quantile                   *float64             `json:"quantile,omitempty"`
	MinBufferMinutes           *float64             `json:"min_buffer_minutes,omitempty"`
	MaxBufferMinutes           *float64             `json:"max_buffer_minutes,omitempty"`
	BufferMultiplier           *float64             `json:"buffer_multiplier,omitempty"`
	TrafficMultiplier          *float64             `json:"traffic_multiplier,omitempty"`
	EmergencySLAMinutes        *float64             `json:"emergency_sla_minutes,omitempty"`
	ReoptimizeThresholdMinutes *float64             `json:"reoptimize_threshold_minutes,omitempty"`
	MaxReoptimizationsPerHour  *int                 `json:"max_reoptimizations_per_hour,omitempty"`
}

// Apply returns a copy of p with the patch applied.
func (pt ParamsPatch) Apply(p SchedulerParams) SchedulerParams {
	p = p.Clone()
	for k, v := range pt.AlphaPriority {
		p.AlphaPriority[k] = v
	}
	setF := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setF(&p.BetaIdle, pt.BetaIdle)
	setF(&p.DeltaOvertime, pt.DeltaOvertime)
	setF(&p.RescheduleWeight, pt.RescheduleWeight)
	setF(&p.Quantile, pt.Quantile)
	setF(&p.MinBufferMinutes, pt.MinBufferMinutes)
	setF(&p.MaxBufferMinutes, pt.MaxBufferMinutes)
	setF(&p.BufferMultiplier, pt.BufferMultiplier)
	setF(&p.TrafficMultiplier, pt.TrafficMultiplier)
	setF(&p.EmergencySLAMinutes, pt.EmergencySLAMinutes)
	setF(&p.ReoptimizeThresholdMinutes, pt.ReoptimizeThresholdMinutes)
	if pt.MaxReoptimizationsPerHour != nil {
		p.MaxReoptimizationsPerHour = *pt.MaxReoptimizationsPerHour
	}
	return p
}

// Validate checks the params are usable by the optimizer.
func (p SchedulerParams) Validate() error {
	switch {
	case p.Quantile <= 0 || p.Quantile > 1:
		return &ValidationError{Field: "quantile", Reason: "must be in (0,1]"}
	case p.MinBufferMinutes < 0:
		return &ValidationError{Field: "min_buffer_minutes", Reason: "must not be negative"}
	case p.MaxBufferMinutes < p.MinBufferMinutes:
		return &ValidationError{Field: "max_buffer_minutes", Reason: "must be >= min_buffer_minutes"}
	case p.BetaIdle < 0 || p.DeltaOvertime < 0:
		return &ValidationError{Field: "weights", Reason: "must not be negative"}
	case p.MaxReoptimizationsPerHour < 0:
		return &ValidationError{Field: "max_reoptimizations_per_hour", Reason: "must not be negative"}
	}
	return nil
}
