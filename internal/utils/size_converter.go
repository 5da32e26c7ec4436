package utils

import (
	"fmt"
	"math"
)

// ConvertBytesToHumanReadable converts a given number of bytes into a human-readable format (e.g., KB, MB, GB).
func ConvertBytesToHumanReadable(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}

	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	exp := int64(math.Log(float64(bytes)) / math.Log(unit))
	pre := "KMGTPE"[exp-1]
	return fmt.Sprintf("%.1f %cB", float64(bytes)/math.Pow(unit, float64(exp)), pre)
}

// FormatSpeed renders a bytes-per-second rate the way progress output
// expects it: B/s below 1KiB, KB/s below 1MiB, MB/s above that.
func FormatSpeed(bytesPerSec float64) string {
	switch {
	case bytesPerSec < 1024:
		return fmt.Sprintf("%.1f B/s", bytesPerSec)
	case bytesPerSec < 1024*1024:
		return fmt.Sprintf("%.1f KB/s", bytesPerSec/1024)
	default:
		return fmt.Sprintf("%.1f MB/s", bytesPerSec/(1024*1024))
	}
}
