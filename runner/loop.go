package runner

import (
	"fmt"
	"time"
)

// LoopMode selects how cycles are scheduled.
type LoopMode string

const (
	// LoopContinuous runs cycles back to back with a fixed delay between.
	LoopContinuous LoopMode = "continuous"
	// LoopInterval runs a cycle whenever the interval since the last run
	// has elapsed.
	LoopInterval LoopMode = "interval"
	// LoopOnce runs exactly one cycle and stops.
	LoopOnce LoopMode = "once"
)

// ParseLoopMode maps a config string to a LoopMode.
func ParseLoopMode(s string) (LoopMode, error) {
	switch LoopMode(s) {
	case LoopContinuous, LoopInterval, LoopOnce:
		return LoopMode(s), nil
	}
	return "", fmt.Errorf("unknown loop mode %q (want continuous, interval or once)", s)
}

// LoopPolicy decides when the next cycle may run. It is not safe for
// concurrent use; the runner calls it from a single goroutine.
type LoopPolicy struct {
	mode    LoopMode
	delay   time.Duration
	started bool
	lastRun time.Time
	ran     bool

	now   func() time.Time
	sleep func(time.Duration)
}

// NewLoopPolicy builds a policy for the given mode. The delay is the
// pause between continuous cycles or the interval between interval runs.
func NewLoopPolicy(mode LoopMode, delay time.Duration) *LoopPolicy {
	return &LoopPolicy{
		mode:  mode,
		delay: delay,
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// ShouldRunNow reports whether a cycle should start. In continuous mode
// it blocks for the configured delay between consecutive runs; in
// interval mode it returns false without blocking until the interval has
// elapsed; in once mode it returns true exactly one time.
func (p *LoopPolicy) ShouldRunNow() bool {
	switch p.mode {
	case LoopContinuous:
		if p.started {
			p.sleep(p.delay)
		}
		p.started = true
		return true
	case LoopInterval:
		if p.lastRun.IsZero() || p.now().Sub(p.lastRun) >= p.delay {
			p.lastRun = p.now()
			return true
		}
		return false
	case LoopOnce:
		if p.ran {
			return false
		}
		p.ran = true
		return true
	}
	return false
}

// Exhausted reports whether the policy will never allow another run.
func (p *LoopPolicy) Exhausted() bool {
	return p.mode == LoopOnce && p.ran
}
