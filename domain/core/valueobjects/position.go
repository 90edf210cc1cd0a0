package valueobjects

// Position is a location on the authoring canvas.
type Position struct {
	X float64 `json:"x" yaml:"x" dynamodbav:"x"`
	Y float64 `json:"y" yaml:"y" dynamodbav:"y"`
}

// NewPosition creates a position
func NewPosition(x, y float64) Position {
	return Position{X: x, Y: y}
}

// Add returns p offset by o.
func (p Position) Add(o Position) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y}
}
