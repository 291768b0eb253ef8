package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

var durationType = reflect.TypeOf(Duration(0))

// durationHookFunc lets mapstructure (the engine koanf's UnmarshalWithConf
// uses under the hood) decode a Duration field from either a Go duration
// string ("5m") or a bare number of milliseconds, mirroring Duration's own
// UnmarshalYAML, which covers documents decoded directly with yaml.v3
// instead of through koanf.
func durationHookFunc() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q: %w", v, err)
			}
			return Duration(parsed), nil
		case int:
			return Duration(time.Duration(v) * time.Millisecond), nil
		case int64:
			return Duration(time.Duration(v) * time.Millisecond), nil
		case float64:
			return Duration(time.Duration(v) * time.Millisecond), nil
		default:
			return data, nil
		}
	}
}

// DecoderConfig returns the mapstructure settings every Cubicler config
// decode uses (sans Result, which the caller must set to its destination
// pointer before use), exported so callers outside pkg/config (tests,
// tooling) can reuse the same decode semantics.
func DecoderConfig() *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "yaml",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			durationHookFunc(),
		),
	}
}
