package types

import (
	"encoding/json"
	"fmt"
)

// SupportedSettings is the allow-list of keys retained by Configure. Anything else is dropped
// silently.
var SupportedSettings = []string{"server", "currencies"}

// ParseSettings extracts the supported subset from a raw settings map. Calling it twice with
// the same input yields the same Settings, independent of map key order. Currencies may come
// typed as []CurrencySettings or as decoded JSON ([]interface{} of maps).
func ParseSettings(raw map[string]interface{}) (Settings, error) {
	var s Settings

	if v, ok := raw["server"]; ok {
		server, ok := v.(string)
		if !ok {
			return s, fmt.Errorf("settings: server is not a string: %w", ErrBadSettings)
		}

		s.Server = server
	}

	v, ok := raw["currencies"]
	if !ok {
		return s, nil
	}

	switch cur := v.(type) {
	case []CurrencySettings:
		s.Currencies = append(s.Currencies, cur...)
	default:
		// decoded JSON: round trip through the codec into the typed slice
		buf, err := json.Marshal(v)
		if err != nil {
			return s, fmt.Errorf("settings: cannot read currencies: %w", err)
		}

		if err := json.Unmarshal(buf, &s.Currencies); err != nil {
			return s, fmt.Errorf("settings: cannot read currencies: %w", err)
		}
	}

	return s, nil
}

// MergeFeatures resolves the feature map for an adapter: the family defaults first, then the
// constructor-supplied overrides on top. Keys unknown to the defaults are preserved verbatim
// so callers can branch on chain-specific quirks not modeled here.
func MergeFeatures(defaults, custom map[string]interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(defaults)+len(custom))

	for k, v := range defaults {
		m[k] = v
	}

	for k, v := range custom {
		m[k] = v
	}

	return m
}
