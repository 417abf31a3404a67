package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration — time.Duration в JSON: строка ("30s", "2h") или число секунд.
type Duration time.Duration

// UnmarshalJSON разбирает строку или число секунд.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*d = Duration(time.Duration(x * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// MarshalJSON пишет строку вида "1h30m0s".
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// D возвращает time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}
