// Package mapper translates rows between their abstract form, keyed by
// field name with typed values, and their physical form, keyed by column
// with driver friendly values.
package mapper

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-entity-engine/entity"
)

var zeroDates = []string{"0000-00-00", "0000-00-00 00:00:00"}

var dateLayouts = []string{
	entity.DateTimeLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04",
	entity.DateLayout,
}

// Encode maps row to physical columns. A field the specification does not
// know is rejected.
func Encode(spec *entity.Specification, row entity.Row) (map[string]any, error) {
	out := make(map[string]any, len(row))
	for name, value := range row {
		field, ok := spec.Field(name)
		if !ok {
			return nil, entity.NewInvalidArgumentError(
				fmt.Sprintf("entity %s has no field %q", spec.Name(), name),
				map[string]any{"entity": spec.Name().String(), "field": name},
			)
		}
		physical, err := EncodeValue(field, value)
		if err != nil {
			return nil, err
		}
		out[field.Column] = physical
	}
	return out, nil
}

// Decode maps a physical row to abstract fields. Columns the specification
// does not map are ignored.
func Decode(spec *entity.Specification, physical map[string]any) entity.Row {
	row := make(entity.Row, len(physical))
	for column, value := range physical {
		field, ok := spec.FieldByColumn(column)
		if !ok {
			continue
		}
		row[field.Name] = DecodeValue(field, value)
	}
	return row
}

// Canonical normalizes caller input to the value Decode would produce after
// a store round trip, so it can be compared with a loaded row.
func Canonical(field entity.Field, value any) (any, error) {
	physical, err := EncodeValue(field, value)
	if err != nil {
		return nil, err
	}
	return DecodeValue(field, physical), nil
}

// EncodeValue coerces one logical value to its physical form.
func EncodeValue(field entity.Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch field.Kind {
	case entity.KindID:
		return encodeID(field, value)
	case entity.KindInt:
		return encodeInt(field, value)
	case entity.KindFloat:
		return encodeFloat(field, value)
	case entity.KindBool:
		return decodeBool(value), nil
	case entity.KindDate:
		return encodeTime(field, value, entity.DateLayout)
	case entity.KindDateTime:
		return encodeTime(field, value, entity.DateTimeLayout)
	case entity.KindArray:
		return encodeArray(field, value)
	case entity.KindGeoPoint:
		return encodeGeoPoint(field, value)
	}
	return encodeString(value), nil
}

// DecodeValue coerces one physical value to its logical form. It never fails:
// values that cannot be read decode to nil.
func DecodeValue(field entity.Field, value any) any {
	switch field.Kind {
	case entity.KindID:
		return decodeID(value)
	case entity.KindInt:
		if n, ok := toInt64(value); ok && n != 0 {
			return n
		}
		return nil
	case entity.KindFloat:
		if f, ok := toFloat64(value); ok && f != 0 {
			return f
		}
		return nil
	case entity.KindBool:
		return decodeBool(value)
	case entity.KindDate, entity.KindDateTime:
		if t, ok := parseTime(value); ok {
			return t
		}
		return nil
	case entity.KindArray:
		return decodeArray(value)
	case entity.KindGeoPoint:
		if p, ok := toGeoPoint(value); ok {
			return p
		}
		return nil
	}
	return decodeString(value)
}

func encodeID(field entity.Field, value any) (any, error) {
	if s, ok := asString(value); ok {
		s = strings.TrimSpace(s)
		if s == "" || s == "0" {
			return nil, nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		return s, nil
	}
	n, ok := toInt64(value)
	if !ok {
		return nil, invalidValue(field, value)
	}
	if n == 0 {
		return nil, nil
	}
	return n, nil
}

func encodeInt(field entity.Field, value any) (any, error) {
	if s, ok := asString(value); ok && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	n, ok := toInt64(value)
	if !ok {
		return nil, invalidValue(field, value)
	}
	// zero reads back as null
	if n == 0 {
		return nil, nil
	}
	return n, nil
}

func encodeFloat(field entity.Field, value any) (any, error) {
	if s, ok := asString(value); ok && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	f, ok := toFloat64(value)
	if !ok {
		return nil, invalidValue(field, value)
	}
	if f == 0 {
		return nil, nil
	}
	return f, nil
}

func encodeString(value any) any {
	s, ok := asString(value)
	if !ok {
		s, _ = entity.FormatValue(value)
	}
	if s == "" {
		return nil
	}
	return s
}

func encodeTime(field entity.Field, value any, layout string) (any, error) {
	if s, ok := asString(value); ok && isZeroDate(s) {
		return nil, nil
	}
	t, ok := parseTime(value)
	if !ok {
		if tv, isTime := value.(time.Time); isTime && tv.IsZero() {
			return nil, nil
		}
		return nil, invalidValue(field, value)
	}
	return t.Format(layout), nil
}

func encodeArray(field entity.Field, value any) (any, error) {
	var items []string
	switch v := value.(type) {
	case []string:
		items = v
	case []any:
		items = make([]string, 0, len(v))
		for _, item := range v {
			s, _ := entity.FormatValue(item)
			items = append(items, s)
		}
	case string:
		items = strings.Split(v, entity.ArraySeparator)
	default:
		return nil, invalidValue(field, value)
	}

	parts := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, isString := value.(string); !isString && strings.Contains(item, entity.ArraySeparator) {
			return nil, entity.NewInvalidArgumentError(
				fmt.Sprintf("field %s: array item %q contains the separator %q", field.Name, item, entity.ArraySeparator),
				map[string]any{"field": field.Name},
			)
		}
		parts = append(parts, item)
	}
	return strings.Join(parts, entity.ArraySeparator), nil
}

func encodeGeoPoint(field entity.Field, value any) (any, error) {
	p, ok := toGeoPoint(value)
	if !ok {
		if s, isString := asString(value); isString && strings.TrimSpace(s) == "" {
			return nil, nil
		}
		return nil, invalidValue(field, value)
	}
	return p.String(), nil
}

func decodeID(value any) any {
	if s, ok := asString(value); ok {
		s = strings.TrimSpace(s)
		if s == "" || s == "0" {
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		return s
	}
	if n, ok := toInt64(value); ok && n != 0 {
		return n
	}
	return nil
}

func decodeString(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return v
	case []byte:
		return string(v)
	}
	s, _ := entity.FormatValue(value)
	return s
}

func decodeBool(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case float32:
		return v != 0
	}
	if n, ok := toInt64(value); ok {
		if _, isString := asString(value); !isString {
			return n != 0
		}
	}
	s, ok := asString(value)
	if !ok {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false", "f", "no", "n", "off":
		return false
	}
	return true
}

func decodeArray(value any) any {
	if value == nil {
		return nil
	}
	s, ok := asString(value)
	if !ok {
		if arr, isArr := value.([]string); isArr {
			return arr
		}
		return nil
	}
	out := []string{}
	for _, part := range strings.Split(s, entity.ArraySeparator) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v.UTC(), true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return parseTime(*v)
	}
	s, ok := asString(value)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if isZeroDate(s) {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func isZeroDate(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	for _, zero := range zeroDates {
		if s == zero {
			return true
		}
	}
	return false
}

func toGeoPoint(value any) (entity.GeoPoint, bool) {
	switch v := value.(type) {
	case entity.GeoPoint:
		return v, true
	case *entity.GeoPoint:
		if v == nil {
			return entity.GeoPoint{}, false
		}
		return *v, true
	}
	s, ok := asString(value)
	if !ok {
		return entity.GeoPoint{}, false
	}
	return entity.ParseGeoPoint(s)
}

func asString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	if s, ok := asString(value); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	if s, ok := asString(value); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	if n, ok := toInt64(value); ok {
		return float64(n), true
	}
	return 0, false
}

func invalidValue(field entity.Field, value any) error {
	return entity.NewInvalidArgumentError(
		fmt.Sprintf("field %s: cannot store %T as %s", field.Name, value, field.Kind),
		map[string]any{"field": field.Name, "kind": string(field.Kind)},
	)
}
