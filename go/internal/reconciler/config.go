package reconciler

import "time"

// Config holds reconciler tunables.
type Config struct {
	TickInterval       time.Duration `yaml:"tick_interval"`
	DriftTolerance     time.Duration `yaml:"drift_tolerance"`
	CorrectionWindow   time.Duration `yaml:"correction_window"`    // minimum spacing between drift corrections
	SpuriousEndWindow  time.Duration `yaml:"spurious_end_window"`  // an end this soon after play is discarded
	SpuriousRetryDelay time.Duration `yaml:"spurious_retry_delay"` // wait before replaying after a spurious end
	CommandTimeout     time.Duration `yaml:"command_timeout"`
	TimelineInterval   time.Duration `yaml:"timeline_interval"`
	StepSeconds        float64       `yaml:"step_seconds"`
}

// DefaultConfig returns default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval:       100 * time.Millisecond,
		DriftTolerance:     time.Second,
		CorrectionWindow:   50 * time.Millisecond,
		SpuriousEndWindow:  time.Second,
		SpuriousRetryDelay: time.Second,
		CommandTimeout:     5 * time.Second,
		TimelineInterval:   500 * time.Millisecond,
		StepSeconds:        5,
	}
}
