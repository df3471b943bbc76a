// Package util contains misc internal utilities.
package util

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// IntSliceToCSV convets a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}

// ParseCameraList converts a list of 1-based camera numbers into 0-based slot
// indices.  The command layer sends lists as a run of digits ("136") or comma
// separated ("1,3,6").  Duplicates are dropped and the result is sorted.
func ParseCameraList(s string, n int) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty camera list")
	}
	var parts []string
	if strings.ContainsAny(s, ", ") {
		parts = strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	} else {
		parts = strings.Split(s, "")
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		k, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("camera list error: %s", s)
		}
		if k < 1 || k > n {
			return nil, fmt.Errorf("camera list error: %s, camera %d outside 1-%d", s, k, n)
		}
		out = append(out, k-1)
	}
	return UniqueInt(out), nil
}

// UniqueInt returns the sorted distinct values of is
func UniqueInt(is []int) []int {
	seen := make(map[int]struct{}, len(is))
	out := make([]int, 0, len(is))
	for _, v := range is {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// SecsToDuration converts a floating point number of seconds to a duration,
// rounded to the nearest nanosecond
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs*1e9 + 0.5)
}

// MillisToDuration converts integer milliseconds to a duration
func MillisToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
