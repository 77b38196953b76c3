package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		{"", 10, 10},
		{"42", 0, 42},
		{"-13", 1, -13},
		{"0012", 99, 12},
		{"x", 5, 5},
		{" 42", 7, 7},
		{"999999999999999999999999", -1, -1},
	}
	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}

func TestClampPage(t *testing.T) {
	b := PageBounds{DefaultSize: 20, MaxSize: 100}
	cases := []struct {
		page, size         string
		wantPage, wantSize int
	}{
		{"", "", 1, 20},
		{"0", "0", 1, 1},
		{"-3", "500", 1, 100},
		{"4", "15", 4, 15},
		{"x", "y", 1, 20},
	}
	for _, tc := range cases {
		p, s := ClampPage(tc.page, tc.size, b)
		if p != tc.wantPage || s != tc.wantSize {
			t.Fatalf("ClampPage(%q, %q) = %d, %d; want %d, %d", tc.page, tc.size, p, s, tc.wantPage, tc.wantSize)
		}
	}
	if _, s := ClampPage("1", "1000", PageBounds{DefaultSize: 5}); s != 1000 {
		t.Fatalf("no ceiling when MaxSize is 0, got %d", s)
	}
}

func TestTotalPages(t *testing.T) {
	if TotalPages(0, 20) != 0 || TotalPages(1, 20) != 1 || TotalPages(40, 20) != 2 || TotalPages(41, 20) != 3 || TotalPages(5, 0) != 0 {
		t.Fatalf("TotalPages mismatch")
	}
}
