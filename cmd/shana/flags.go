package main

import (
	"fmt"
	"strconv"
	"time"
)

// parseReloadDelay accepts a duration string ("100ms", "1s") or integer milliseconds.
func parseReloadDelay(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid reload delay %q: must not be negative", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid reload delay %q: must be like '100ms', '1s' or milliseconds: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid reload delay %q: must not be negative", s)
	}
	return d, nil
}
