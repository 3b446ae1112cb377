package describe

import "github.com/KaramelBytes/dataforge-cli/internal/engine"

// Class is the normalization category of a column.
type Class int

const (
	Numeric Class = iota
	Temporal
	NestedList
	Other
)

func (c Class) String() string {
	switch c {
	case Numeric:
		return "numeric"
	case Temporal:
		return "temporal"
	case NestedList:
		return "list"
	default:
		return "other"
	}
}

// Classify maps a field's type to its class; the first matching rule wins.
func Classify(f engine.Field) Class {
	switch {
	case f.Type.IsNumeric():
		return Numeric
	case f.Type.IsTemporal():
		return Temporal
	case f.Type.Kind == engine.KindList:
		return NestedList
	default:
		return Other
	}
}

// summaryType is the column type a field takes in the summary table before cast-back.
func summaryType(f engine.Field) engine.DataType {
	switch Classify(f) {
	case Numeric, Temporal:
		return engine.Float64
	default:
		return engine.Utf8
	}
}

// transform builds the projection expression that reduces f to a numeric proxy.
func transform(f engine.Field) engine.Expr {
	col := engine.Col(f.Name)
	switch Classify(f) {
	case Numeric:
		return col
	case Temporal:
		return engine.Alias(engine.Cast(col, engine.Float64), f.Name)
	case NestedList:
		return engine.Alias(engine.ArrayLength(col), f.Name)
	}
	if f.Type.Kind == engine.KindBinary {
		// Byte count; length() of the text cast stops at the first NUL.
		return engine.Alias(engine.Length(col), f.Name)
	return engine.Alias(engine.Length(engine.Cast(col, engine.Utf8)), f.Name)
}
