package engine

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the logical type family of a column.
type Kind int

const (
	KindNull Kind = iota
	KindBoolean
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUInt8
	KindUInt16
	KindUInt32
	KindUInt64
	KindFloat32
	KindFloat64
	KindUtf8
	KindBinary
	KindDate32
	KindTimestamp
	KindList
	KindStruct
)

// TimeUnit is the resolution of a Timestamp column.
type TimeUnit int

const (
	Second TimeUnit = iota
	Millisecond
	Microsecond
	Nanosecond
)

func (u TimeUnit) String() string {
	switch u {
	case Second:
		return "Second"
	case Millisecond:
		return "Millisecond"
	case Microsecond:
		return "Microsecond"
	default:
		return "Nanosecond"
	}
}

// perSecond returns how many ticks of u fit in one second.
func (u TimeUnit) perSecond() int64 {
	switch u {
	case Second:
		return 1
	case Millisecond:
		return 1_000
	case Microsecond:
		return 1_000_000
	default:
		return 1_000_000_000
	}
}

// DataType is a logical column type. Elem is set for lists only.
type DataType struct {
	Kind Kind
	Unit TimeUnit
	Elem *DataType
}

var (
	Null    = DataType{Kind: KindNull}
	Boolean = DataType{Kind: KindBoolean}
	Int8    = DataType{Kind: KindInt8}
	Int16   = DataType{Kind: KindInt16}
	Int32   = DataType{Kind: KindInt32}
	Int64   = DataType{Kind: KindInt64}
	UInt8   = DataType{Kind: KindUInt8}
	UInt16  = DataType{Kind: KindUInt16}
	UInt32  = DataType{Kind: KindUInt32}
	UInt64  = DataType{Kind: KindUInt64}
	Float32 = DataType{Kind: KindFloat32}
	Float64 = DataType{Kind: KindFloat64}
	Utf8    = DataType{Kind: KindUtf8}
	Binary  = DataType{Kind: KindBinary}
	Date32  = DataType{Kind: KindDate32}
	Struct  = DataType{Kind: KindStruct}
)

// Timestamp returns a timestamp type with the given resolution.
func Timestamp(unit TimeUnit) DataType { return DataType{Kind: KindTimestamp, Unit: unit} }

// ListOf returns a list type whose elements have type elem.
func ListOf(elem DataType) DataType {
	e := elem
	return DataType{Kind: KindList, Elem: &e}
}

func (t DataType) IsInteger() bool {
	return t.Kind >= KindInt8 && t.Kind <= KindUInt64
}

func (t DataType) IsFloat() bool { return t.Kind == KindFloat32 || t.Kind == KindFloat64 }

// IsNumeric reports whether t belongs to the integer or float family.
func (t DataType) IsNumeric() bool { return t.IsInteger() || t.IsFloat() }

// IsTemporal reports whether t belongs to the date/time family.
func (t DataType) IsTemporal() bool { return t.Kind == KindDate32 || t.Kind == KindTimestamp }

// Equal compares types structurally.
func (t DataType) Equal(o DataType) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindTimestamp:
		return t.Unit == o.Unit
	case KindList:
		if t.Elem == nil || o.Elem == nil {
			return t.Elem == o.Elem
		}
		return t.Elem.Equal(*o.Elem)
	}
	return true
}

func (t DataType) String() string {
	switch t.Kind {
	case KindNull:
		return "Null"
	case KindBoolean:
		return "Boolean"
	case KindInt8:
		return "Int8"
	case KindInt16:
		return "Int16"
	case KindInt32:
		return "Int32"
	case KindInt64:
		return "Int64"
	case KindUInt8:
		return "UInt8"
	case KindUInt16:
		return "UInt16"
	case KindUInt32:
		return "UInt32"
	case KindUInt64:
		return "UInt64"
	case KindFloat32:
		return "Float32"
	case KindFloat64:
		return "Float64"
	case KindUtf8:
		return "Utf8"
	case KindBinary:
		return "Binary"
	case KindDate32:
		return "Date32"
	case KindTimestamp:
		return fmt.Sprintf("Timestamp(%s)", t.Unit)
	case KindList:
		if t.Elem == nil {
			return "List(Null)"
		}
		return fmt.Sprintf("List(%s)", t.Elem.String())
	case KindStruct:
		return "Struct"
	}
	return fmt.Sprintf("Kind(%d)", int(t.Kind))
}

// ParseDataType accepts the names produced by DataType.String (case-insensitive)
// plus a few common aliases.
func ParseDataType(s string) (DataType, error) {
	raw := strings.TrimSpace(s)
	low := strings.ToLower(raw)
	switch low {
	case "null":
		return Null, nil
	case "boolean", "bool":
		return Boolean, nil
	case "int8":
		return Int8, nil
	case "int16":
		return Int16, nil
	case "int32", "int":
		return Int32, nil
	case "int64", "bigint":
		return Int64, nil
	case "uint8":
		return UInt8, nil
	case "uint16":
		return UInt16, nil
	case "uint32":
		return UInt32, nil
	case "uint64":
		return UInt64, nil
	case "float32", "float":
		return Float32, nil
	case "float64", "double":
		return Float64, nil
	case "utf8", "string", "text":
		return Utf8, nil
	case "binary", "bytes":
		return Binary, nil
	case "date32", "date":
		return Date32, nil
	case "struct":
		return Struct, nil
	case "timestamp":
		return Timestamp(Microsecond), nil
	}
	if strings.HasPrefix(low, "timestamp(") && strings.HasSuffix(low, ")") {
		switch strings.TrimSuffix(strings.TrimPrefix(low, "timestamp("), ")") {
		case "second", "s":
			return Timestamp(Second), nil
		case "millisecond", "ms":
			return Timestamp(Millisecond), nil
		case "microsecond", "us":
			return Timestamp(Microsecond), nil
		case "nanosecond", "ns":
			return Timestamp(Nanosecond), nil
		}
	}
	if strings.HasPrefix(low, "list(") && strings.HasSuffix(low, ")") {
		elem, err := ParseDataType(raw[len("list(") : len(raw)-1])
		if err != nil {
			return DataType{}, err
		}
		return ListOf(elem), nil
	}
	return DataType{}, fmt.Errorf("unknown data type %q", s)
}

// physical returns the SQLite storage class used for t.
func (t DataType) physical() string {
	switch {
	case t.Kind == KindBoolean, t.IsInteger(), t.IsTemporal():
		return "INTEGER"
	case t.IsFloat():
		return "REAL"
	case t.Kind == KindUtf8, t.Kind == KindList, t.Kind == KindStruct:
		return "TEXT"
	default:
		return "BLOB"
	}
}

// code is the short tag embedded in declared column types. Tags never contain
// "INT" so the trailing storage class alone decides the column affinity.
func (t DataType) code() string {
	switch t.Kind {
	case KindBoolean:
		return "BOOL"
	case KindInt8:
		return "I8"
	case KindInt16:
		return "I16"
	case KindInt32:
		return "I32"
	case KindInt64:
		return "I64"
	case KindUInt8:
		return "U8"
	case KindUInt16:
		return "U16"
	case KindUInt32:
		return "U32"
	case KindUInt64:
		return "U64"
	case KindFloat32:
		return "F32"
	case KindFloat64:
		return "F64"
	case KindUtf8:
		return "UTF8"
	case KindBinary:
		return "BIN"
	case KindDate32:
		return "DATE32"
	case KindTimestamp:
		return "TS" + [...]string{"S", "MS", "US", "NS"}[t.Unit]
	case KindList:
		if t.Elem == nil {
			return "LIST_NULL"
		}
		return "LIST_" + t.Elem.code()
	case KindStruct:
		return "STRUCT"
	}
	return "NULL"
}

// declType is the column type written in CREATE TABLE.
func (t DataType) declType() string { return t.code() + "_" + t.physical() }

var codeTypes = map[string]DataType{
	"BOOL": Boolean, "I8": Int8, "I16": Int16, "I32": Int32, "I64": Int64,
	"U8": UInt8, "U16": UInt16, "U32": UInt32, "U64": UInt64,
	"F32": Float32, "F64": Float64, "UTF8": Utf8, "BIN": Binary,
	"DATE32": Date32, "TSS": Timestamp(Second), "TSMS": Timestamp(Millisecond),
	"TSUS": Timestamp(Microsecond), "TSNS": Timestamp(Nanosecond),
	"STRUCT": Struct, "NULL": Null,
}

func typeFromCode(code string) (DataType, bool) {
	if strings.HasPrefix(code, "LIST_") {
		elem, ok := typeFromCode(strings.TrimPrefix(code, "LIST_"))
		if !ok {
			return DataType{}, false
		}
		return ListOf(elem), true
	}
	t, ok := codeTypes[code]
	return t, ok
}

// typeFromDecl recovers a logical type from a declared column type.
func typeFromDecl(decl string) (DataType, bool) {
	decl = strings.ToUpper(strings.TrimSpace(decl))
	i := strings.LastIndex(decl, "_")
	if i <= 0 {
		return DataType{}, false
	}
	t, ok := typeFromCode(decl[:i])
	if !ok || t.physical() != decl[i+1:] {
		return DataType{}, false
	}
	return t, true
}

const secondsPerDay = 86_400

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// toEpoch converts t to the integer representation of a temporal type.
func toEpoch(t time.Time, dt DataType) int64 {
	if dt.Kind == KindDate32 {
		return floorDiv(t.Unix(), secondsPerDay)
	}
	switch dt.Unit {
	case Second:
		return t.Unix()
	case Millisecond:
		return t.UnixMilli()
	case Microsecond:
		return t.UnixMicro()
	default:
		return t.UnixNano()
	}
}

// fromEpoch is the inverse of toEpoch. Results are in UTC.
func fromEpoch(v int64, dt DataType) time.Time {
	if dt.Kind == KindDate32 {
		return time.Unix(v*secondsPerDay, 0).UTC()
	}
	switch dt.Unit {
	case Second:
		return time.Unix(v, 0).UTC()
	case Millisecond:
		return time.UnixMilli(v).UTC()
	case Microsecond:
		return time.UnixMicro(v).UTC()
	default:
		return time.Unix(0, v).UTC()
	}
}
