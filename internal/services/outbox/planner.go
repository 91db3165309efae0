package outbox

import "time"

// BackoffConfig is the retry schedule of a failed publish, indexed by the
// number of failures so far.
type BackoffConfig struct {
	Backoff1 time.Duration // default: 5 seconds
	Backoff2 time.Duration // default: 30 seconds
	Backoff3 time.Duration // default: 2 minutes
	Backoff4 time.Duration // default: 10 minutes
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Backoff1: 5 * time.Second,
		Backoff2: 30 * time.Second,
		Backoff3: 2 * time.Minute,
		Backoff4: 10 * time.Minute,
	}
}

type Planner struct {
	cfg BackoffConfig
}

func NewPlanner(cfg BackoffConfig) *Planner {
	def := DefaultBackoffConfig()
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	return &Planner{cfg: cfg}
}

func (p *Planner) BackoffDelay(nextFailCount int) time.Duration {
	switch {
	case nextFailCount <= 1:
		return p.cfg.Backoff1
	case nextFailCount == 2:
		return p.cfg.Backoff2
	case nextFailCount == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
