package reservations

import "strings"

// Intersects reports whether two path glob patterns could both match at
// least one real path, conservatively: it is better to report a false
// conflict than to miss a real one. "**" matches any number of path
// segments including zero; "*" matches exactly one segment.
func Intersects(a, b string) bool {
	if a == b {
		return true
	}
	segA := strings.Split(a, "/")
	segB := strings.Split(b, "/")
	return segmentsIntersect(segA, segB)
}

func segmentsIntersect(a, b []string) bool {
	for len(a) > 0 && len(b) > 0 {
		sa, sb := a[0], b[0]
		if sa == "**" || sb == "**" {
			// "**" can absorb any remaining suffix (including none), so
			// from here the patterns are conservatively treated as
			// intersecting.
			return true
		}
		if sa != "*" && sb != "*" && sa != sb {
			return false
		}
		a = a[1:]
		b = b[1:]
	}
	return len(a) == 0 && len(b) == 0
}
