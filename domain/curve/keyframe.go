package curve

import "fmt"

// Interpolation selects how a curve segment is shaped next to a keyframe.
type Interpolation string

const (
	Linear     Interpolation = "linear"
	Smooth     Interpolation = "smooth"
	Horizontal Interpolation = "horizontal"
	Constant   Interpolation = "constant"
	Tangent    Interpolation = "tangent"
	Cubic      Interpolation = "cubic"
)

// IsValid reports whether i is a known interpolation.
func (i Interpolation) IsValid() bool {
	switch i {
	case Linear, Smooth, Horizontal, Constant, Tangent, Cubic:
		return true
	}
	return false
}

// Keyframe is the value and shape information stored at one time on a curve.
type Keyframe struct {
	Value           float64       `json:"value" dynamodbav:"value"`
	InType          Interpolation `json:"inType" dynamodbav:"inType"`
	OutType         Interpolation `json:"outType" dynamodbav:"outType"`
	InTangentAngle  float64       `json:"inTangentAngle" dynamodbav:"inTangentAngle"`
	OutTangentAngle float64       `json:"outTangentAngle" dynamodbav:"outTangentAngle"`
	BrokenTangents  bool          `json:"brokenTangents" dynamodbav:"brokenTangents"`
}

// NewKeyframe creates a smooth keyframe holding v.
func NewKeyframe(v float64) Keyframe {
	return Keyframe{Value: v, InType: Smooth, OutType: Smooth}
}

// WithShapeOf copies the interpolation settings of other, keeping the value.
func (k Keyframe) WithShapeOf(other Keyframe) Keyframe {
	other.Value = k.Value
	return other
}

// Validate checks the interpolation tags.
func (k Keyframe) Validate() error {
	if !k.InType.IsValid() {
		return fmt.Errorf("unknown in-interpolation %q", k.InType)
	}
	if !k.OutType.IsValid() {
		return fmt.Errorf("unknown out-interpolation %q", k.OutType)
	}
	return nil
}
