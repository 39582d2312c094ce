package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes yaml values like "90s" or "7m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration yaml: %w", err)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ClockTime is a time of day like "15:55", compared against the simulated
// session clock.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c *ClockTime) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid clock time yaml: %w", err)
	}

	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return fmt.Errorf("invalid clock time %q: %w", s, err)
	}

	c.Hour = parsed.Hour()
	c.Minute = parsed.Minute()
	return nil
}

// Reached reports whether t's time of day is at or past the cutoff.
func (c ClockTime) Reached(t time.Time) bool {
	h, m, _ := t.Clock()
	return h > c.Hour || (h == c.Hour && m >= c.Minute)
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}
