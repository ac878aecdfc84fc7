package store

import "time"

// parseTime parses a timestamp stored by nowString. A malformed value
// (should never occur outside manual DB edits) degrades to the zero time
// rather than panicking.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
