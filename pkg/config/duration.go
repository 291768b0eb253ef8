package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration that unmarshals from YAML either as a
// Go duration string ("5m", "30s") or a bare number of milliseconds,
// matching the env-var surface in spec.md §6 (*_CALL_TIMEOUT values are
// plain millisecond integers).
type Duration time.Duration

func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v) * time.Millisecond)
	case float64:
		*d = Duration(time.Duration(v) * time.Millisecond)
	default:
		return fmt.Errorf("invalid duration value: %v", raw)
	}
	return nil
}
