// Package curve stores per-port keyframe timelines.
package curve

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Mapping controls sampling outside the keyed range.
type Mapping string

const (
	// MappingConstant holds the first or last key value.
	MappingConstant Mapping = "constant"
	// MappingCycle repeats the keyed range.
	MappingCycle Mapping = "cycle"
)

// Point is one keyframe placed on the time axis.
type Point struct {
	Time float64  `json:"time" dynamodbav:"time"`
	Key  Keyframe `json:"key" dynamodbav:"key"`
}

// Curve is a time-sorted keyframe list with at most one key per exact time.
type Curve struct {
	PreMapping  Mapping
	PostMapping Mapping
	points      []Point
}

// New creates an empty curve with constant mappings.
func New() *Curve {
	return &Curve{PreMapping: MappingConstant, PostMapping: MappingConstant}
}

// FromPoints builds a curve from unordered points. Duplicate times are rejected.
func FromPoints(points []Point) (*Curve, error) {
	c := New()
	for _, p := range points {
		if c.HasKeyAt(p.Time) {
			return nil, fmt.Errorf("duplicate keyframe at time %v", p.Time)
		}
		c.AddOrUpdate(p.Time, p.Key)
	}
	return c, nil
}

// search returns the insertion index for t and whether a key sits exactly there.
func (c *Curve) search(t float64) (int, bool) {
	i := sort.Search(len(c.points), func(i int) bool { return c.points[i].Time >= t })
	return i, i < len(c.points) && c.points[i].Time == t
}

// Len returns the number of keys.
func (c *Curve) Len() int {
	return len(c.points)
}

// HasKeyAt reports whether a key exists exactly at t.
func (c *Curve) HasKeyAt(t float64) bool {
	_, ok := c.search(t)
	return ok
}

// Key returns the key at exactly t.
func (c *Curve) Key(t float64) (Keyframe, bool) {
	i, ok := c.search(t)
	if !ok {
		return Keyframe{}, false
	}
	return c.points[i].Key, true
}

// ExistsBefore reports whether any key lies strictly before t.
func (c *Curve) ExistsBefore(t float64) bool {
	return len(c.points) > 0 && c.points[0].Time < t
}

// ExistsAfter reports whether any key lies strictly after t.
func (c *Curve) ExistsAfter(t float64) bool {
	return len(c.points) > 0 && c.points[len(c.points)-1].Time > t
}

// PreviousTime returns the time of the closest key strictly before t.
func (c *Curve) PreviousTime(t float64) (float64, bool) {
	i, _ := c.search(t)
	if i == 0 {
		return 0, false
	}
	return c.points[i-1].Time, true
}

// NextTime returns the time of the closest key strictly after t.
func (c *Curve) NextTime(t float64) (float64, bool) {
	i, ok := c.search(t)
	if ok {
		i++
	}
	if i >= len(c.points) {
		return 0, false
	}
	return c.points[i].Time, true
}

// Points returns a copy of the keys in time order.
func (c *Curve) Points() []Point {
	out := make([]Point, len(c.points))
	copy(out, c.points)
	return out
}

// AddOrUpdate stores k at t, replacing an existing key at the same time.
func (c *Curve) AddOrUpdate(t float64, k Keyframe) {
	i, ok := c.search(t)
	if ok {
		c.points[i].Key = k
		return
	}
	c.points = append(c.points, Point{})
	copy(c.points[i+1:], c.points[i:])
	c.points[i] = Point{Time: t, Key: k}
}

// Remove deletes the key at t and reports whether one existed.
func (c *Curve) Remove(t float64) bool {
	i, ok := c.search(t)
	if !ok {
		return false
	}
	c.points = append(c.points[:i], c.points[i+1:]...)
	return true
}

// Move relocates the key at from to to, overwriting whatever was at to.
func (c *Curve) Move(from, to float64) error {
	k, ok := c.Key(from)
	if !ok {
		return fmt.Errorf("no keyframe at time %v", from)
	}
	if from == to {
		return nil
	}
	c.Remove(from)
	c.AddOrUpdate(to, k)
	return nil
}

// Clone returns a deep copy.
func (c *Curve) Clone() *Curve {
	if c == nil {
		return nil
	}
	return &Curve{PreMapping: c.PreMapping, PostMapping: c.PostMapping, points: c.Points()}
}

// Equal compares keys and mappings.
func (c *Curve) Equal(o *Curve) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.PreMapping != o.PreMapping || c.PostMapping != o.PostMapping || len(c.points) != len(o.points) {
		return false
	}
	for i := range c.points {
		if c.points[i] != o.points[i] {
			return false
		}
	}
	return true
}

type curveJSON struct {
	PreMapping  Mapping `json:"preMapping"`
	PostMapping Mapping `json:"postMapping"`
	Points      []Point `json:"points"`
}

// MarshalJSON implements json.Marshaler
func (c *Curve) MarshalJSON() ([]byte, error) {
	return json.Marshal(curveJSON{PreMapping: c.PreMapping, PostMapping: c.PostMapping, Points: c.Points()})
}

// UnmarshalJSON implements json.Unmarshaler
func (c *Curve) UnmarshalJSON(data []byte) error {
	var raw curveJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromPoints(raw.Points)
	if err != nil {
		return err
	}
	parsed.PreMapping, parsed.PostMapping = raw.PreMapping, raw.PostMapping
	if parsed.PreMapping == "" {
		parsed.PreMapping = MappingConstant
	}
	if parsed.PostMapping == "" {
		parsed.PostMapping = MappingConstant
	}
	*c = *parsed
	return nil
}
