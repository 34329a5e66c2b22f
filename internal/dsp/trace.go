package dsp

import (
	"math"
	"math/cmplx"
)

// Trace is the averaged echo profile of a periodic pulse train.
type Trace struct {
	Power []float64
	Peak  int // index of the strongest return before rolling
	Lead  int // samples kept ahead of the peak
}

// PulseTrace averages samples over period-sample chunks after removing
// their mean, then rolls the magnitude so the strongest return sits lead
// samples from the start, keeping at most length samples.
func PulseTrace(samples []complex64, period, lead, length int) (Trace, bool) {
	avg := AverageChunks(RemoveMean(samples), period)
	if avg == nil {
		return Trace{}, false
	}
	power := make([]float64, len(avg))
	for i, v := range avg {
		power[i] = cmplx.Abs(v) / math.Sqrt2
	}
	peak, _ := Peak(power)
	rolled := RollToPeak(power, lead)
	if length > 0 && length < len(rolled) {
		rolled = rolled[:length]
	}
	return Trace{Power: rolled, Peak: peak, Lead: lead}, true
}
