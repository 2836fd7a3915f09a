package reservations

import "testing"

func TestIntersects(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"src/x.ts", "src/x.ts", true},
		{"a/**", "a/b/*", true},
		{"a/**", "b/**", false},
		{"a/*", "a/b", true},
		{"a/*", "a/b/c", false},
		{"a/b/*", "a/c/*", false},
	}
	for _, tc := range cases {
		got := Intersects(tc.a, tc.b)
		if got != tc.want {
			t.Errorf("Intersects(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
