package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cast"
)

// Output layouts of validated date, datetime and time values.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = time.RFC3339
	TimeLayout     = "15:04:05"
)

// coerce converts raw to the field's output representation.
func coerce(f Field, raw any) (any, error) {
	switch f.Type {
	case TypeString:
		s, err := cast.ToStringE(raw)
		if err != nil {
			return nil, fmt.Errorf("not a valid string")
		}
		return s, nil

	case TypeInteger:
		if s, ok := raw.(string); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("not a valid integer")
			}
			return n, nil
		}
		switch f := raw.(type) {
		case float64:
			if f != math.Trunc(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("not a valid integer")
			}
		case float32:
			if float64(f) != math.Trunc(float64(f)) || math.IsInf(float64(f), 0) {
				return nil, fmt.Errorf("not a valid integer")
			}
		}
		n, err := cast.ToInt64E(raw)
		if err != nil {
			return nil, fmt.Errorf("not a valid integer")
		}
		return n, nil

	case TypeNumber, TypeFloat:
		if s, ok := raw.(string); ok {
			n, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, ",", "")), 64)
			if err != nil {
				return nil, fmt.Errorf("not a valid number")
			}
			return n, nil
		}
		n, err := cast.ToFloat64E(raw)
		if err != nil {
			return nil, fmt.Errorf("not a valid number")
		}
		return n, nil

	case TypeBoolean:
		if s, ok := raw.(string); ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "y", "yes":
				return true, nil
			case "n", "no":
				return false, nil
			}
		}
		b, err := cast.ToBoolE(raw)
		if err != nil {
			return nil, fmt.Errorf("not a valid boolean")
		}
		return b, nil

	case TypeDate:
		t, err := parseTime(raw, f.Format)
		if err != nil {
			return nil, fmt.Errorf("not a valid date")
		}
		return t.Format(DateLayout), nil

	case TypeDateTime:
		t, err := parseTime(raw, f.Format)
		if err != nil {
			return nil, fmt.Errorf("not a valid datetime")
		}
		return t.Format(DateTimeLayout), nil

	case TypeTime:
		layout := f.Format
		if layout == "" {
			layout = TimeLayout
		}
		t, err := parseTime(raw, layout)
		if err != nil {
			return nil, fmt.Errorf("not a valid time")
		}
		return t.Format(TimeLayout), nil

	case TypeJSON:
		s, ok := raw.(string)
		if !ok {
			return raw, nil
		}
		var v any
		if err := gojson.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("not valid JSON")
		}
		return v, nil
	}

	return nil, fmt.Errorf("unsupported field type %q", f.Type)
}

func parseTime(raw any, layout string) (time.Time, error) {
	if t, ok := raw.(time.Time); ok {
		return t, nil
	}
	s, ok := raw.(string)
	if !ok {
		return cast.ToTimeE(raw)
	}
	s = strings.TrimSpace(s)
	if layout != "" {
		return time.Parse(layout, s)
	}
	return cast.ToTimeE(s)
}
