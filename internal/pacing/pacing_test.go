package pacing

import (
	"testing"
	"time"
)

func TestPacerCatchUpThenPaced(t *testing.T) {
	p := NewPacer(0)
	t0 := time.Unix(1000, 0)

	if wait, _ := p.Remaining(33*time.Millisecond, t0); wait != 0 {
		t.Fatalf("first emission waited %v, want 0", wait)
	}
	p.Mark(t0)

	tests := []struct {
		name    string
		delta   time.Duration
		elapsed time.Duration
		want    time.Duration
	}{
		{"full wait", 33 * time.Millisecond, 0, 33 * time.Millisecond},
		{"partial wait", 33 * time.Millisecond, 10 * time.Millisecond, 23 * time.Millisecond},
		{"late", 33 * time.Millisecond, 50 * time.Millisecond, 0},
		{"zero delta", 0, 0, 0},
		{"negative delta", -5 * time.Millisecond, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, clamped := p.Remaining(tt.delta, t0.Add(tt.elapsed))
			if got != tt.want || clamped {
				t.Errorf("Remaining(%v) = %v, %v, want %v, false", tt.delta, got, clamped, tt.want)
			}
		})
	}
}

func TestPacerArmSkipsWait(t *testing.T) {
	p := NewPacer(0)
	t0 := time.Unix(1000, 0)
	p.Mark(t0)
	p.Arm()
	if !p.Armed() {
		t.Fatal("Armed() = false after Arm()")
	}
	if wait, _ := p.Remaining(time.Second, t0); wait != 0 {
		t.Errorf("armed pacer waited %v", wait)
	}
	p.Mark(t0)
	if wait, _ := p.Remaining(time.Second, t0); wait != time.Second {
		t.Errorf("disarmed pacer waited %v, want 1s", wait)
	}
}

func TestPacerClampsLongWaits(t *testing.T) {
	p := NewPacer(100 * time.Millisecond)
	t0 := time.Unix(1000, 0)
	p.Mark(t0)

	got, clamped := p.Remaining(10*time.Minute, t0)
	if got != 100*time.Millisecond || !clamped {
		t.Errorf("Remaining() = %v, %v, want 100ms, true", got, clamped)
	}

	// The cap bounds the total wait, not each call.
	got, clamped = p.Remaining(10*time.Minute, t0.Add(60*time.Millisecond))
	if got != 40*time.Millisecond || !clamped {
		t.Errorf("Remaining() after 60ms = %v, %v, want 40ms, true", got, clamped)
	}
	if got, _ = p.Remaining(10*time.Minute, t0.Add(time.Second)); got != 0 {
		t.Errorf("Remaining() after 1s = %v, want 0", got)
	}
}

func TestFidelity(t *testing.T) {
	var f Fidelity
	if st := f.Stats(); st.IsStable || st.Samples != 0 {
		t.Fatalf("empty stats = %+v", st)
	}

	interval := 33 * time.Millisecond
	for _, lag := range []time.Duration{1, 2, 1, 0, 2} {
		f.Observe(interval, interval+lag*time.Millisecond)
	}
	f.ObserveCatchUp()
	f.ObserveClamp()

	st := f.Stats()
	if st.Samples != 5 || st.CatchUps != 1 || st.Clamped != 1 {
		t.Errorf("unexpected counters: %+v", st)
	}
	if st.LagMax < 1900*time.Microsecond || st.LagMax > 2100*time.Microsecond {
		t.Errorf("LagMax = %v, want 2ms", st.LagMax)
	}
	if !st.IsStable {
		t.Errorf("expected stable for ~1ms lag on 33ms interval: %+v", st)
	}

	for i := 0; i < 20; i++ {
		f.Observe(interval, interval+30*time.Millisecond)
	}
	if f.Stats().IsStable {
		t.Errorf("expected unstable after 30ms lags")
	}
}
