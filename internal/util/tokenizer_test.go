package util

import "testing"

func TestCountTokens(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"single word", "hello", 1},
		{"two words", "hello world", 2},
		{"trailing punctuation", "hello, world!", 4},
		{"only whitespace", "   \t\n", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CountTokens(tc.in); got != tc.want {
				t.Errorf("CountTokens(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}
