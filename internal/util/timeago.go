// Human-readable "time since last check" formatting for API listings.

package util

import (
	"fmt"
	"time"
)

func formatTimeSince(now, date time.Time) string {
	seconds := int(now.Sub(date).Seconds())
	if seconds < 0 {
		return "In the future?"
	}
	minutes, seconds := seconds/60, seconds%60
	hours, minutes := minutes/60, minutes%60
	days, hours := hours/24, hours%24

	switch {
	case days == 0 && hours == 0 && minutes == 0 && seconds == 0:
		return "Now"
	case days == 0 && hours == 0 && minutes == 0 && seconds == 1:
		return "1 second ago"
	case days == 0 && hours == 0 && minutes == 0:
		return fmt.Sprintf("%d seconds ago", seconds)
	case days == 0 && hours == 0 && minutes <= 2:
		return fmt.Sprintf("%s, %d seconds ago", plural(minutes, "minute"), seconds)
	case days == 0 && hours == 0:
		return fmt.Sprintf("%d minutes ago", minutes)
	case days == 0 && hours <= 2:
		return fmt.Sprintf("%s, %d minutes ago", plural(hours, "hour"), minutes)
	case days == 0:
		return fmt.Sprintf("%d hours ago", hours)
	case days <= 2:
		return fmt.Sprintf("%s, %d hours ago", plural(days, "day"), hours)
	default:
		return fmt.Sprintf("%d days ago", days)
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func formatDatetime(now, date time.Time) string {
	since := now.Sub(date)
	if since > 0 && since < 24*time.Hour {
		return date.Format("15:04 MST")
	}
	return date.Format("2006-01-02 15:04 MST")
}

// FormatLastCheck renders a check timestamp as a relative description plus
// the absolute time, e.g. "2 hours ago (14:05 UTC)".
func FormatLastCheck(date time.Time) string {
	now := time.Now().UTC()
	return fmt.Sprintf("%s (%s)", formatTimeSince(now, date), formatDatetime(now, date))
}
