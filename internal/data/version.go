package data

import (
	"strconv"
	"strings"
)

// Version is a dotted version value such as "1.2" or "1.10.3".
// Segments compare numerically when both sides parse as integers.
type Version string

// Compare returns -1, 0 or 1. Missing trailing segments count as zero,
// so "1.2" equals "1.2.0".
func (v Version) Compare(o Version) int {
	a := strings.Split(strings.TrimSpace(string(v)), ".")
	b := strings.Split(strings.TrimSpace(string(o)), ".")
	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		x, y := "0", "0"
		if i < len(a) && a[i] != "" {
			x = a[i]
		}
		if i < len(b) && b[i] != "" {
			y = b[i]
		}
		if c := compareSegment(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

func (v Version) String() string { return string(v) }

// MatchesAny reports whether v equals one of vs.
func (v Version) MatchesAny(vs []Version) bool {
	for _, o := range vs {
		if v.Equal(o) {
			return true
		}
	}
	return false
}

func compareSegment(x, y string) int {
	xi, errX := strconv.Atoi(x)
	yi, errY := strconv.Atoi(y)
	if errX == nil && errY == nil {
		switch {
		case xi < yi:
			return -1
		case xi > yi:
			return 1
		}
		return 0
	}
	return strings.Compare(x, y)
}
