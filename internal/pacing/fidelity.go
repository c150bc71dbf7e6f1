package pacing

import (
	"math"
	"sync"
	"time"
)

// lagStabilityThreshold is the maximum mean lag as a fraction of the mean
// recorded interval. Example: 33ms recorded interval -> stable if mean lag < 6.6ms
const lagStabilityThreshold = 0.20

// Fidelity measures how closely emissions follow the recorded timing.
//
// Lag is actual interval minus recorded interval for every paced emission.
// Catch-up emissions are not recorded. Safe for concurrent use.
type Fidelity struct {
	mu sync.Mutex

	samples     uint64
	intendedSum float64 // seconds
	lagMean     float64 // seconds, running (Welford)
	lagM2       float64
	lagAbsSum   float64
	lagMax      float64
	clamped     uint64
	catchUps    uint64
}

// FidelityStats is a snapshot of Fidelity.
type FidelityStats struct {
	Samples      uint64
	CatchUps     uint64
	Clamped      uint64
	IntendedMean time.Duration
	LagMean      time.Duration
	LagStdDev    time.Duration
	LagMax       time.Duration
	IsStable     bool
}

// Observe records one paced emission.
func (f *Fidelity) Observe(intended, actual time.Duration) {
	lag := (actual - intended).Seconds()

	f.mu.Lock()
	defer f.mu.Unlock()

	f.samples++
	f.intendedSum += intended.Seconds()

	d := lag - f.lagMean
	f.lagMean += d / float64(f.samples)
	f.lagM2 += d * (lag - f.lagMean)

	abs := math.Abs(lag)
	f.lagAbsSum += abs
	if abs > f.lagMax {
		f.lagMax = abs
	}
}

// ObserveCatchUp records an emission that skipped pacing.
func (f *Fidelity) ObserveCatchUp() {
	f.mu.Lock()
	f.catchUps++
	f.mu.Unlock()
}

// ObserveClamp records a pacing wait that hit the cap.
func (f *Fidelity) ObserveClamp() {
	f.mu.Lock()
	f.clamped++
	f.mu.Unlock()
}

// Stats returns the current statistics. With no samples IsStable is false.
func (f *Fidelity) Stats() FidelityStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := FidelityStats{
		Samples:  f.samples,
		CatchUps: f.catchUps,
		Clamped:  f.clamped,
	}
	if f.samples == 0 {
		return st
	}

	n := float64(f.samples)
	intendedMean := f.intendedSum / n
	st.IntendedMean = seconds(intendedMean)
	st.LagMean = seconds(f.lagMean)
	st.LagStdDev = seconds(math.Sqrt(f.lagM2 / n))
	st.LagMax = seconds(f.lagMax)
	st.IsStable = f.lagAbsSum/n < intendedMean*lagStabilityThreshold
	return st
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
