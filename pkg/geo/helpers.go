package geo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// getStringProp safely extracts a string property from GeoJSON properties.
func getStringProp(props geojson.Properties, key string) string {
	if val, ok := props[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case json.Number:
			return string(v)
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// getFloatProp extracts a numeric property. Missing or null values report ok=false.
// Numeric strings are accepted since building exports often quote heights.
func getFloatProp(props geojson.Properties, key string) (v float64, ok bool, err error) {
	val, present := props[key]
	if !present || val == nil {
		return 0, false, nil
	}

	switch n := val.(type) {
	case float64:
		return n, true, nil
	case int:
		return float64(n), true, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("%s=%q: %w", key, n, ErrBadProperty)
		}
		return f, true, nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%s=%q: %w", key, n, ErrBadProperty)
		}
		return f, true, nil
	}
	return 0, false, fmt.Errorf("%s has type %T: %w", key, val, ErrBadProperty)
}

// featureID resolves an identifier from the "id" property, then the feature id.
func featureID(f *geojson.Feature) string {
	if id := getStringProp(f.Properties, "id"); id != "" {
		return id
	}
	switch v := f.ID.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return string(v)
	}
	return ""
}
