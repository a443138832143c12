// Package heat provides heat score calculation for report clusters.
package heat

import "time"

// Config contains all heat formula weights and parameters.
// The values are tuning constants, not law; every one is adjustable.
type Config struct {
	// ReportWeight is the score contribution of each cluster member.
	ReportWeight float64 `json:"report_weight" yaml:"report_weight"`

	// BurstWindow is the trailing window, ending at the evaluation time,
	// inside which members count toward the burst bonus.
	BurstWindow time.Duration `json:"burst_window" yaml:"burst_window"`

	// BurstFloor is the number of in-window members a cluster must exceed
	// before any burst bonus accrues.
	BurstFloor int `json:"burst_floor" yaml:"burst_floor"`

	// BurstWeight is the bonus per in-window member above the floor.
	BurstWeight float64 `json:"burst_weight" yaml:"burst_weight"`

	// DecayPerHour is the score removed per hour since the earliest member.
	// Anchoring decay at the oldest report lets long-lived recurring issues
	// decay while still accruing per-report score.
	DecayPerHour float64 `json:"decay_per_hour" yaml:"decay_per_hour"`
}

// DefaultConfig returns the default heat configuration.
func DefaultConfig() Config {
	return Config{
		ReportWeight: 2.0,
		BurstWindow:  time.Hour,
		BurstFloor:   3,
		BurstWeight:  1.0,
		DecayPerHour: 0.1,
	}
}

// Calculator computes heat scores from cluster member timestamps.
type Calculator struct {
	config Config
}

// NewCalculator creates a heat calculator. A zero-value config is replaced
// with the defaults.
func NewCalculator(config Config) *Calculator {
	if config == (Config{}) {
		config = DefaultConfig()
	}
	return &Calculator{config: config}
}

// Calculate computes the heat of a cluster at the given time.
//
// The formula:
//
//	Heat = max(0, ReportScore + BurstBonus − TimeDecay)
//
// Where:
//   - ReportScore = member_count × ReportWeight
//   - BurstBonus = max(0, recent_count − BurstFloor) × BurstWeight,
//     recent_count being the members inside the trailing BurstWindow
//   - TimeDecay = hours since the earliest member × DecayPerHour
//
// Heat is never negative. The caller may add a domain severity score on
// top of the returned value; the calculator itself knows only timestamps.
func (c *Calculator) Calculate(timestamps []time.Time, now time.Time) float64 {
	return c.CalculateComponents(timestamps, now).Heat
}

// CalculateComponents returns the individual components of the heat score.
// Useful for explaining rankings. Calculate delegates to this.
func (c *Calculator) CalculateComponents(timestamps []time.Time, now time.Time) Components {
	if len(timestamps) == 0 {
		return Components{}
	}

	reportScore := float64(len(timestamps)) * c.config.ReportWeight

	windowStart := now.Add(-c.config.BurstWindow)
	recent := 0
	earliest := timestamps[0]
	for _, ts := range timestamps {
		if !ts.Before(windowStart) && !ts.After(now) {
			recent++
		}
		if ts.Before(earliest) {
			earliest = ts
		}
	}

	burstBonus := 0.0
	if recent > c.config.BurstFloor {
		burstBonus = float64(recent-c.config.BurstFloor) * c.config.BurstWeight
	}

	ageHours := now.Sub(earliest).Hours()
	if ageHours < 0 {
		ageHours = 0 // future timestamps do not inflate heat
	}
	timeDecay := ageHours * c.config.DecayPerHour

	heat := reportScore + burstBonus - timeDecay
	if heat < 0 {
		heat = 0
	}

	return Components{
		ReportScore: reportScore,
		RecentCount: recent,
		BurstBonus:  burstBonus,
		TimeDecay:   timeDecay,
		Heat:        heat,
	}
}

// Components contains the breakdown of a heat calculation.
type Components struct {
	ReportScore float64 `json:"report_score"`
	RecentCount int     `json:"recent_count"`
	BurstBonus  float64 `json:"burst_bonus"`
	TimeDecay   float64 `json:"time_decay"`
	Heat        float64 `json:"heat"`
}

// GetConfig returns the current heat configuration.
func (c *Calculator) GetConfig() Config {
	return c.config
}
