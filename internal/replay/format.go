package replay

import "fmt"

// FormatDuration renders a duration in the largest whole unit: exact hours as
// hours, exact minutes as minutes, everything else as seconds. Values below
// one second are clamped to one.
func FormatDuration(seconds int) string {
	if seconds < 1 {
		seconds = 1
	}
	switch {
	case seconds%3600 == 0:
		return plural(seconds/3600, "hour")
	case seconds%60 == 0:
		return plural(seconds/60, "minute")
	default:
		return plural(seconds, "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
