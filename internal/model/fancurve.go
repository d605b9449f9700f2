package model

import "fmt"

// FanCurvePoint maps a CPU temperature to a fan duty cycle.
type FanCurvePoint struct {
	TempC   float64 `json:"temp_c"`
	Percent int     `json:"percent"`
}

// FanCurve drives the fans while FanMode is auto. Points are ordered by
// strictly increasing temperature.
type FanCurve []FanCurvePoint

// DefaultFanCurve returns the stock curve.
func DefaultFanCurve() FanCurve {
	return FanCurve{
		{TempC: 40, Percent: 20},
		{TempC: 55, Percent: 40},
		{TempC: 70, Percent: 65},
		{TempC: 85, Percent: 100},
	}
}

// Validate checks the curve has points in temperature order with duties
// in 0..100.
func (c FanCurve) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("%w: fan curve has no points", ErrOutOfDomain)
	}
	for i, p := range c {
		if p.Percent < 0 || p.Percent > 100 {
			return fmt.Errorf("%w: fan curve point %d: percent %d not in 0..100", ErrOutOfDomain, i, p.Percent)
		}
		if i > 0 && p.TempC <= c[i-1].TempC {
			return fmt.Errorf("%w: fan curve point %d: temperature %g not above %g", ErrOutOfDomain, i, p.TempC, c[i-1].TempC)
		}
	}
	return nil
}

// Percent returns the duty for tempC. Below the first point and above the
// last the curve is flat; in between it interpolates linearly and
// truncates.
func (c FanCurve) Percent(tempC float64) int {
	if len(c) == 0 {
		return 0
	}
	if tempC <= c[0].TempC {
		return c[0].Percent
	}
	last := c[len(c)-1]
	if tempC >= last.TempC {
		return last.Percent
	}
	for i := 1; i < len(c); i++ {
		lo, hi := c[i-1], c[i]
		if tempC > hi.TempC {
			continue
		}
		frac := (tempC - lo.TempC) / (hi.TempC - lo.TempC)
		return lo.Percent + int(frac*float64(hi.Percent-lo.Percent))
	}
	return last.Percent
}
