package media

// Deriver extracts a sensor sample from a capture.
type Deriver interface {
	Derive(c Capture) (SensorSample, bool)
}

// SampleCarrier is implemented by captures that were recorded with an
// embedded sensor sample.
type SampleCarrier interface {
	SensorSample() (SensorSample, bool)
}

// EmbeddedSamples derives the sample a capture carries, if any.
type EmbeddedSamples struct{}

func (EmbeddedSamples) Derive(c Capture) (SensorSample, bool) {
	sc, ok := c.(SampleCarrier)
	if !ok {
		return SensorSample{}, false
	}
	return sc.SensorSample()
}
