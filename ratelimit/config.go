package ratelimit

import "github.com/bbockelm/lsfspool/config"

// FromConfig builds the admission limiter from the controller's sleepval
// setting: one scheduler call admitted per sleepval seconds.
func FromConfig(cfg *config.Config) *Limiter {
	if cfg == nil {
		return NewLimiter(0)
	}
	return NewLimiter(float64(cfg.SleepVal))
}
