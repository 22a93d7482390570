package enaconfig

import "time"

// Duration decodes TOML duration strings ("10s", "1h") into a time.Duration,
// since go-toml/v2 has no built-in duration type.
type Duration struct {
	d time.Duration
}

func (d *Duration) Duration() time.Duration {
	if d == nil {
		return 0
	}
	return d.d
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.d = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.d.String()), nil
}
