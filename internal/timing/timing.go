// Package timing formats durations for log lines.
package timing

import (
	"fmt"
	"time"
)

// Clock renders d as hh:mm:ss, rounding down to whole seconds.
func Clock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
