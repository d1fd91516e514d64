package gateway

import "strconv"

var units = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes renders n with a binary unit and two decimals, e.g. 7.63 GiB.
func formatBytes(n uint64) string {
	f := float64(n)
	i := 0
	for f >= 1024 && i < len(units)-1 {
		f /= 1024
		i++
	}
	if i == 0 {
		return strconv.FormatUint(n, 10) + " B"
	}
	return strconv.FormatFloat(f, 'f', 2, 64) + " " + units[i]
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64) + "%"
}
