// Package pacing reproduces the recorded inter-frame timing on the wall clock.
package pacing

import "time"

// Pacer decides how long to wait before the next emission.
//
// The first emission after Arm is immediate (catch-up). Later emissions wait
// until the recorded delta has elapsed since the previous emission, capped at
// maxWait so a jump in the recorded timestamps cannot stall playback.
//
// Pacer is not safe for concurrent use.
type Pacer struct {
	maxWait time.Duration
	last    time.Time
	armed   bool
}

// NewPacer creates an armed pacer. maxWait <= 0 disables the cap.
func NewPacer(maxWait time.Duration) *Pacer {
	return &Pacer{maxWait: maxWait, armed: true}
}

// Arm makes the next emission immediate.
func (p *Pacer) Arm() {
	p.armed = true
}

// Armed reports whether the next emission is immediate.
func (p *Pacer) Armed() bool {
	return p.armed
}

// Remaining returns how long to wait at now before emitting an item whose
// recorded delta is delta, and whether delta exceeds the cap. A capped delta
// counts as maxWait, so repeated calls never wait longer than maxWait in total.
func (p *Pacer) Remaining(delta time.Duration, now time.Time) (time.Duration, bool) {
	if p.armed || p.last.IsZero() || delta <= 0 {
		return 0, false
	}
	clamped := p.maxWait > 0 && delta > p.maxWait
	if clamped {
		delta = p.maxWait
	}
	rem := delta - now.Sub(p.last)
	if rem <= 0 {
		return 0, clamped
	}
	return rem, clamped
}

// Mark records an emission at now and disarms the pacer.
func (p *Pacer) Mark(now time.Time) {
	p.last = now
	p.armed = false
}

// Last returns the time of the previous emission.
func (p *Pacer) Last() time.Time {
	return p.last
}
