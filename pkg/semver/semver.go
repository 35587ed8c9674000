// Copyright 2025 Certen Protocol
//
// Package semver is the numeric major.minor.patch comparator shared by
// the trust core's anti-downgrade checks on policy versions and
// circuit versions. Grounded on no single pack
// file — see DESIGN.md for why this stays on the standard library.

package semver

import (
	"strconv"
	"strings"
)

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater
// than b, comparing major/minor/patch numerically component by
// component — never lexicographically. Malformed or missing
// components compare as 0.
func Compare(a, b string) int {
	pa, pb := split(a), split(b)
	for i := 0; i < 3; i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func split(v string) [3]int {
	var out [3]int
	parts := strings.SplitN(v, ".", 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			continue
		}
		out[i] = n
	}
	return out
}
