package loadsched

import "time"

// etaEstimator keeps a plain running average of successful attempt
// durations. Early outliers bias the estimate until enough samples
// accumulate; no weighting is applied.
type etaEstimator struct {
	samples []time.Duration
	sum     time.Duration
}

func (e *etaEstimator) add(d time.Duration) {
	if d < 0 {
		d = 0
	}
	e.samples = append(e.samples, d)
	e.sum += d
}

func (e *etaEstimator) average() time.Duration {
	if len(e.samples) == 0 {
		return 0
	}
	return e.sum / time.Duration(len(e.samples))
}

// estimate projects the time left for remaining resources spread over
// slots concurrent fetches.
func (e *etaEstimator) estimate(remaining, slots int) time.Duration {
	if len(e.samples) == 0 || remaining <= 0 {
		return 0
	}
	if slots < 1 {
		slots = 1
	}
	return e.average() * time.Duration(remaining) / time.Duration(slots)
}
