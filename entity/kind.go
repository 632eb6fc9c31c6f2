package entity

import (
	"strings"
	"unicode"
)

// FieldKind drives how the row codec coerces a field between its
// abstract and physical representation.
type FieldKind string

const (
	KindID       FieldKind = "id"
	KindInt      FieldKind = "int"
	KindFloat    FieldKind = "float"
	KindString   FieldKind = "string"
	KindText     FieldKind = "text"
	KindBool     FieldKind = "bool"
	KindDate     FieldKind = "date"
	KindDateTime FieldKind = "datetime"
	KindArray    FieldKind = "array"
	KindGeoPoint FieldKind = "geopoint"
)

var knownKinds = map[FieldKind]struct{}{
	KindID: {}, KindInt: {}, KindFloat: {}, KindString: {}, KindText: {},
	KindBool: {}, KindDate: {}, KindDateTime: {}, KindArray: {}, KindGeoPoint: {},
}

// ParseFieldKind accepts the lower case kind names used in configuration.
func ParseFieldKind(s string) (FieldKind, bool) {
	k := FieldKind(strings.ToLower(strings.TrimSpace(s)))
	_, ok := knownKinds[k]
	return k, ok
}

// InferFieldKind guesses a kind from naming conventions when configuration
// does not state one.
func InferFieldKind(field, keyField string) FieldKind {
	switch {
	case field == keyField:
		return KindID
	case strings.HasSuffix(field, "Id"):
		return KindID
	case strings.HasSuffix(field, "On"), strings.HasSuffix(field, "Date"):
		return KindDateTime
	case hasVerbPrefix(field, "is"), hasVerbPrefix(field, "has"):
		return KindBool
	}
	return KindString
}

// hasVerbPrefix matches isActive but not island.
func hasVerbPrefix(field, prefix string) bool {
	if len(field) <= len(prefix) || !strings.HasPrefix(field, prefix) {
		return false
	}
	return unicode.IsUpper(rune(field[len(prefix)]))
}

// IDLike reports kinds where zero and the empty string mean "no value".
func (k FieldKind) IDLike() bool {
	return k == KindID
}

func (k FieldKind) Numeric() bool {
	return k == KindID || k == KindInt || k == KindFloat
}

// FreeText reports kinds where only the empty string nulls.
func (k FieldKind) FreeText() bool {
	return k == KindString || k == KindText
}

func (k FieldKind) Temporal() bool {
	return k == KindDate || k == KindDateTime
}
