package clock

// Offset converts between log ticks and media microseconds.
//
// The zero value is usable: identity scale with no offset.
type Offset struct {
	mediaOriginUs  int64
	logOriginTicks int64
	ticksPerSecond int64
}

// NewOffset derives the offset from an anchor. An uncorrelated anchor yields
// a zero offset; only the tick scale is kept.
func NewOffset(a Anchor) Offset {
	o := Offset{ticksPerSecond: a.LogTicksPerSecond}
	if o.ticksPerSecond <= 0 {
		o.ticksPerSecond = DefaultLogTicksPerSecond
	}
	if a.Correlated() {
		o.mediaOriginUs = a.MediaOriginUs
		o.logOriginTicks = a.LogOriginTicks
	}
	return o
}

func (o Offset) rate() int64 {
	if o.ticksPerSecond <= 0 {
		return DefaultLogTicksPerSecond
	}
	return o.ticksPerSecond
}

// ToLog converts a media timestamp (µs) into log ticks.
func (o Offset) ToLog(mediaUs int64) int64 {
	return o.logOriginTicks + scale(mediaUs-o.mediaOriginUs, o.rate(), 1_000_000)
}

// ToMedia converts log ticks into a media timestamp (µs).
func (o Offset) ToMedia(ticks int64) int64 {
	return o.mediaOriginUs + scale(ticks-o.logOriginTicks, 1_000_000, o.rate())
}

// SessionStart is the first log tick belonging to the session. Events before
// it were logged before capture started.
func (o Offset) SessionStart() int64 {
	return o.logOriginTicks
}

// IsZero reports whether no correlation is applied.
func (o Offset) IsZero() bool {
	return o.mediaOriginUs == 0 && o.logOriginTicks == 0
}

// scale computes v*num/den without overflowing for recording-length spans.
func scale(v, num, den int64) int64 {
	if num == den {
		return v
	}
	q, r := v/den, v%den
	return q*num + r*num/den
}
