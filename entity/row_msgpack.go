package entity

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Value tags written ahead of every Row value so decoding restores the exact
// Go type instead of msgpack's loose interface mapping.
const (
	tagNil byte = iota
	tagString
	tagInt
	tagFloat
	tagBool
	tagTime
	tagStrings
	tagGeoPoint
)

var (
	_ msgpack.CustomEncoder = Row(nil)
	_ msgpack.CustomDecoder = (*Row)(nil)
)

func (r Row) EncodeMsgpack(enc *msgpack.Encoder) error {
	if r == nil {
		return enc.EncodeNil()
	}
	if err := enc.EncodeMapLen(len(r)); err != nil {
		return err
	}
	for field, value := range r {
		if err := enc.EncodeString(field); err != nil {
			return err
		}
		if err := encodeTagged(enc, value); err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
	}
	return nil
}

func (r *Row) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	if n == -1 {
		*r = nil
		return nil
	}

	row := make(Row, n)
	for i := 0; i < n; i++ {
		field, err := dec.DecodeString()
		if err != nil {
			return err
		}
		value, err := decodeTagged(dec)
		if err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
		row[field] = value
	}
	*r = row
	return nil
}

func encodeTagged(enc *msgpack.Encoder, value any) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}

	switch v := value.(type) {
	case nil:
		if err := enc.EncodeUint8(tagNil); err != nil {
			return err
		}
		return enc.EncodeNil()
	case string:
		if err := enc.EncodeUint8(tagString); err != nil {
			return err
		}
		return enc.EncodeString(v)
	case int:
		return encodeTaggedInt(enc, int64(v))
	case int32:
		return encodeTaggedInt(enc, int64(v))
	case int64:
		return encodeTaggedInt(enc, v)
	case float64:
		if err := enc.EncodeUint8(tagFloat); err != nil {
			return err
		}
		return enc.EncodeFloat64(v)
	case bool:
		if err := enc.EncodeUint8(tagBool); err != nil {
			return err
		}
		return enc.EncodeBool(v)
	case time.Time:
		if err := enc.EncodeUint8(tagTime); err != nil {
			return err
		}
		return enc.EncodeTime(v)
	case []string:
		if err := enc.EncodeUint8(tagStrings); err != nil {
			return err
		}
		if err := enc.EncodeArrayLen(len(v)); err != nil {
			return err
		}
		for _, s := range v {
			if err := enc.EncodeString(s); err != nil {
				return err
			}
		}
		return nil
	case GeoPoint:
		if err := enc.EncodeUint8(tagGeoPoint); err != nil {
			return err
		}
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeFloat64(v.Latitude); err != nil {
			return err
		}
		return enc.EncodeFloat64(v.Longitude)
	}
	return fmt.Errorf("unsupported row value type %T", value)
}

func encodeTaggedInt(enc *msgpack.Encoder, v int64) error {
	if err := enc.EncodeUint8(tagInt); err != nil {
		return err
	}
	return enc.EncodeInt(v)
}

func decodeTagged(dec *msgpack.Decoder) (any, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n != 2 {
		return nil, fmt.Errorf("malformed row value: %d elements", n)
	}
	tag, err := dec.DecodeUint8()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagNil:
		return nil, dec.DecodeNil()
	case tagString:
		return dec.DecodeString()
	case tagInt:
		return dec.DecodeInt64()
	case tagFloat:
		return dec.DecodeFloat64()
	case tagBool:
		return dec.DecodeBool()
	case tagTime:
		t, err := dec.DecodeTime()
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	case tagStrings:
		size, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, max(size, 0))
		for i := 0; i < size; i++ {
			s, err := dec.DecodeString()
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	case tagGeoPoint:
		if _, err := dec.DecodeArrayLen(); err != nil {
			return nil, err
		}
		lat, err := dec.DecodeFloat64()
		if err != nil {
			return nil, err
		}
		lon, err := dec.DecodeFloat64()
		if err != nil {
			return nil, err
		}
		return GeoPoint{Latitude: lat, Longitude: lon}, nil
	}
	return nil, fmt.Errorf("unknown row value tag %d", tag)
}
