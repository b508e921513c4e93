package util

// ShortHash safely returns up to the first 8 characters of a string (or the full string if shorter)
func ShortHash(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
