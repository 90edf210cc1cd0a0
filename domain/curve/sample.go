package curve

import "math"

// Sample evaluates the curve at u. An empty curve samples to zero.
func (c *Curve) Sample(u float64) float64 {
	n := len(c.points)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return c.points[0].Key.Value
	}

	first, last := c.points[0].Time, c.points[n-1].Time
	if u < first {
		u = c.mapBefore(u, first, last)
	} else if u > last {
		u = c.mapAfter(u, first, last)
	}

	i, exact := c.search(u)
	if exact {
		return c.points[i].Key.Value
	}
	if i == 0 {
		return c.points[0].Key.Value
	}
	if i >= n {
		return c.points[n-1].Key.Value
	}
	return c.segment(i-1, u)
}

func (c *Curve) mapBefore(u, first, last float64) float64 {
	if c.PreMapping != MappingCycle || last == first {
		return first
	}
	return last - math.Mod(first-u, last-first)
}

func (c *Curve) mapAfter(u, first, last float64) float64 {
	if c.PostMapping != MappingCycle || last == first {
		return last
	}
	return first + math.Mod(u-last, last-first)
}

func (c *Curve) segment(i int, u float64) float64 {
	a, b := c.points[i], c.points[i+1]
	if a.Key.OutType == Constant {
		return a.Key.Value
	}
	dt := b.Time - a.Time
	s := (u - a.Time) / dt
	if a.Key.OutType == Linear && b.Key.InType == Linear {
		return a.Key.Value + (b.Key.Value-a.Key.Value)*s
	}

	m0 := c.outSlope(i) * dt
	m1 := c.inSlope(i+1) * dt
	s2, s3 := s*s, s*s*s
	return (2*s3-3*s2+1)*a.Key.Value +
		(s3-2*s2+s)*m0 +
		(-2*s3+3*s2)*b.Key.Value +
		(s3-s2)*m1
}

// outSlope is the slope leaving key i toward key i+1.
func (c *Curve) outSlope(i int) float64 {
	return c.slope(i, c.points[i].Key.OutType, c.points[i].Key.OutTangentAngle, i+1)
}

// inSlope is the slope arriving at key i from key i-1.
func (c *Curve) inSlope(i int) float64 {
	return c.slope(i, c.points[i].Key.InType, c.points[i].Key.InTangentAngle, i-1)
}

func (c *Curve) slope(i int, mode Interpolation, angle float64, neighbour int) float64 {
	p := c.points[i]
	switch mode {
	case Horizontal, Constant:
		return 0
	case Tangent, Cubic:
		return math.Tan(angle)
	case Linear:
		q := c.points[neighbour]
		return (q.Key.Value - p.Key.Value) / (q.Time - p.Time)
	default:
		// catmull-rom style slope from both neighbours, clamped at the ends
		lo, hi := i-1, i+1
		if lo < 0 {
			lo = i
		}
		if hi >= len(c.points) {
			hi = i
		}
		if lo == hi {
			return 0
		}
		return (c.points[hi].Key.Value - c.points[lo].Key.Value) / (c.points[hi].Time - c.points[lo].Time)
	}
}
