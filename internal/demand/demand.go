// Package demand computes a job's growth curve and "temperature" used for
// preemption decisions. Pure functions; a batch scheduler has no elastic
// growth curve, so this is grounded instead on
// original_source/src/app/job.cpp's demand bookkeeping.
package demand

import "math"

// Inputs bundles everything Compute needs.
type Inputs struct {
	Now               float64
	TimeOfActivation  float64
	CommSize          int // upper bound on the job tree's comm size
	GrowthPeriod      float64
	ContinuousGrowth  bool
	MaxDemand         int // 0 = unbounded
	Active            bool
	PreviousVolume    int
}

// Compute implements a job's demand curve. Frozen (non-ACTIVE) jobs
// return the previous volume unchanged.
func Compute(in Inputs) int {
	if !in.Active {
		return in.PreviousVolume
	}

	var d float64
	if in.GrowthPeriod <= 0 {
		d = float64(in.CommSize)
	} else {
		n := (in.Now - in.TimeOfActivation) / in.GrowthPeriod
		if in.ContinuousGrowth {
			d = math.Min(float64(in.CommSize), math.Pow(2, n+1)-1)
		} else {
			d = math.Min(float64(in.CommSize), math.Pow(2, math.Floor(n)+1)-1)
		}
	}

	if d < 1 {
		d = 1
	}
	demand := int(d)
	if in.MaxDemand > 0 && demand > in.MaxDemand {
		demand = in.MaxDemand
	}
	return demand
}

// Temperature implements the preemption-tiebreak temperature curve:
//
//	T(age) = 0.95 + 0.05*0.99^(age+1)
//
// with linear cooling once floating-point stagnation is detected (delta
// between consecutive calls <= 2*epsilon), guaranteeing strict monotonicity
// for use as a tiebreaker.
type Temperature struct {
	last    float64
	lastSet bool
	epsilon float64
}

// NewTemperature constructs a Temperature tracker. epsilon should be
// machine epsilon for float64 unless a test needs a coarser threshold.
func NewTemperature(epsilon float64) *Temperature {
	if epsilon <= 0 {
		epsilon = 2.220446049250313e-16
	}
	return &Temperature{epsilon: epsilon}
}

// At returns the temperature for the given job age in seconds, strictly
// decreasing across successive calls with non-decreasing age.
func (t *Temperature) At(age float64) float64 {
	base := 0.95 + 0.05*math.Pow(0.99, age+1)
	if t.lastSet {
		delta := t.last - base
		if delta <= 2*t.epsilon {
			base = t.last - t.epsilon
		}
	}
	t.last = base
	t.lastSet = true
	return base
}
