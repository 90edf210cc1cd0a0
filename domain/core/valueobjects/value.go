package valueobjects

import (
	"errors"
	"fmt"
	"strconv"
)

// ValueKind is the closed set of value types a port can carry.
type ValueKind string

const (
	KindDynamic ValueKind = "dynamic"
	KindFloat   ValueKind = "float"
	KindGeneric ValueKind = "generic"
	KindImage   ValueKind = "image"
	KindText    ValueKind = "text"
	KindScene   ValueKind = "scene"
	KindMesh    ValueKind = "mesh"
)

var allKinds = map[ValueKind]struct{}{
	KindDynamic: {},
	KindFloat:   {},
	KindGeneric: {},
	KindImage:   {},
	KindText:    {},
	KindScene:   {},
	KindMesh:    {},
}

// ParseValueKind validates a kind name.
func ParseValueKind(s string) (ValueKind, error) {
	k := ValueKind(s)
	if _, ok := allKinds[k]; !ok {
		return "", fmt.Errorf("unknown value kind %q", s)
	}
	return k, nil
}

// IsValid reports whether k is one of the known kinds.
func (k ValueKind) IsValid() bool {
	_, ok := allKinds[k]
	return ok
}

// CompatibleWith reports whether an output of kind k may feed an input of kind target.
// Generic inputs accept anything; dynamic outputs may feed anything.
func (k ValueKind) CompatibleWith(target ValueKind) bool {
	return k == target || target == KindGeneric || k == KindDynamic || k == KindGeneric
}

// Value is a tagged variant. Float carries numeric data, Text carries text and
// every other kind refers to an external resource through an opaque Handle.
// Value is comparable with ==.
type Value struct {
	Kind   ValueKind `json:"kind" yaml:"kind" dynamodbav:"kind"`
	Float  float64   `json:"float,omitempty" yaml:"float,omitempty" dynamodbav:"float,omitempty"`
	Text   string    `json:"text,omitempty" yaml:"text,omitempty" dynamodbav:"text,omitempty"`
	Handle string    `json:"handle,omitempty" yaml:"handle,omitempty" dynamodbav:"handle,omitempty"`
}

// Float creates a numeric value.
func Float(f float64) Value {
	return Value{Kind: KindFloat, Float: f}
}

// Text creates a text value.
func Text(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// Resource creates a handle-backed value of the given kind.
func Resource(kind ValueKind, handle string) Value {
	return Value{Kind: kind, Handle: handle}
}

// Zero returns the neutral value of a kind.
func Zero(kind ValueKind) Value {
	return Value{Kind: kind}
}

// IsZero reports whether v is the unset value.
func (v Value) IsZero() bool {
	return v == Value{}
}

// Validate checks that the payload matches the kind tag.
func (v Value) Validate() error {
	if !v.Kind.IsValid() {
		return fmt.Errorf("unknown value kind %q", v.Kind)
	}
	switch v.Kind {
	case KindFloat:
		if v.Text != "" || v.Handle != "" {
			return errors.New("float value carries a non-numeric payload")
		}
	case KindText:
		if v.Float != 0 || v.Handle != "" {
			return errors.New("text value carries a non-text payload")
		}
	default:
		if v.Float != 0 || v.Text != "" {
			return fmt.Errorf("%s value carries an inline payload", v.Kind)
		}
	}
	return nil
}

func (v Value) String() string {
	switch v.Kind {
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindText:
		return strconv.Quote(v.Text)
	default:
		return fmt.Sprintf("%s(%s)", v.Kind, v.Handle)
	}
}
