// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts s with strconv.Atoi, returning def when s is empty or
// not an integer.
//
//	utils.AtoiDefault("42", 0) // 42
//	utils.AtoiDefault("", 10)  // 10
//	utils.AtoiDefault("x", 5)  // 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageBounds holds the defaults and ceiling used by ClampPage.
type PageBounds struct {
	DefaultSize int
	MaxSize     int
}

// ClampPage parses page and page size query values. Page is at least 1;
// size falls back to b.DefaultSize and is kept within [1, b.MaxSize].
func ClampPage(pageRaw, sizeRaw string, b PageBounds) (page, size int) {
	page = max(AtoiDefault(pageRaw, 1), 1)
	size = max(AtoiDefault(sizeRaw, b.DefaultSize), 1)
	if b.MaxSize > 0 {
		size = min(size, b.MaxSize)
	}
	return page, size
}

// TotalPages returns the number of pages of size needed for total items.
func TotalPages(total int64, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
