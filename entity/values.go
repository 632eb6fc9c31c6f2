package entity

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ArraySeparator joins array values in their physical form.
const ArraySeparator = "|"

// DateTimeLayout is the physical layout for timestamps, always UTC.
const DateTimeLayout = "2006-01-02 15:04:05"

// DateLayout is the physical layout for calendar dates.
const DateLayout = "2006-01-02"

// Row maps abstract field names to typed values: string, int64, float64,
// bool, time.Time, []string, GeoPoint or nil.
type Row map[string]any

// Clone returns a shallow copy. Slice values are copied so the clone can be
// mutated without touching the source.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		if arr, ok := v.([]string); ok {
			v = append([]string(nil), arr...)
		}
		out[k] = v
	}
	return out
}

// Has reports whether field is present, even if its value is nil.
func (r Row) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// GeoPoint is a WGS84 coordinate. Its physical form is "lat,lon".
type GeoPoint struct {
	Latitude  float64 `json:"latitude" msgpack:"lat"`
	Longitude float64 `json:"longitude" msgpack:"lon"`
}

func (p GeoPoint) String() string {
	return strconv.FormatFloat(p.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(p.Longitude, 'f', -1, 64)
}

// ParseGeoPoint reads the "lat,lon" form. Out of range coordinates are rejected.
func ParseGeoPoint(s string) (GeoPoint, bool) {
	lat, lon, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return GeoPoint{}, false
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil || math.Abs(la) > 90 {
		return GeoPoint{}, false
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil || math.Abs(lo) > 180 {
		return GeoPoint{}, false
	}
	return GeoPoint{Latitude: la, Longitude: lo}, true
}

// FormatID renders an identifier the way it appears in cache keys, result
// indexes and audit records.
func FormatID(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(id)
}

// FormatValue renders a logical value as text for the change log. The second
// result is false for nil.
func FormatValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case time.Time:
		if val.IsZero() {
			return "", false
		}
		return val.UTC().Format(DateTimeLayout), true
	case []string:
		return strings.Join(val, ArraySeparator), true
	case bool:
		if val {
			return "1", true
		}
		return "0", true
	case GeoPoint:
		return val.String(), true
	case *GeoPoint:
		if val == nil {
			return "", false
		}
		return val.String(), true
	}
	return FormatID(v), true
}
