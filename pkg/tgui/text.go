package tgui

// TruncRunes shortens s to at most n runes, marking a cut with "…".
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	seen := 0
	for i := range s {
		if seen == n {
			return trimToRunes(s[:i], n-1) + "…"
		}
		seen++
	}
	return s
}

func trimToRunes(s string, n int) string {
	seen := 0
	for i := range s {
		if seen == n {
			return s[:i]
		}
		seen++
	}
	return s
}
