package store

import "time"

// now returns the current instant truncated to second resolution in UTC,
// matching the wire format's RFC 3339-seconds contract (spec §3).
func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func parseTimePtr(ns *string) (*time.Time, error) {
	if ns == nil {
		return nil, nil
	}
	t, err := parseTime(*ns)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
