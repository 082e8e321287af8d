package battle_test

import (
	"testing"

	"arena-service/internal/service/battle"
)

func TestDurationForDifficulty(t *testing.T) {
	cases := []struct {
		difficulty string
		want       int
	}{
		{"BRONZE", 10},
		{"SILVER", 20},
		{"GOLD", 30},
		{"PLATINUM", 40},
		{"gold", 30},
		{"DIAMOND", 20},
		{"", 20},
	}
	for _, tc := range cases {
		if got := battle.DurationForDifficulty(tc.difficulty); got != tc.want {
			t.Errorf("DurationForDifficulty(%q) = %d, want %d", tc.difficulty, got, tc.want)
		}
	}
}

func TestResolveDuration(t *testing.T) {
	cases := []struct {
		name       string
		difficulty string
		override   int
		want       int
	}{
		{"difficulty default", "BRONZE", 0, 10},
		{"explicit override", "BRONZE", 45, 45},
		{"clamped low", "GOLD", -5, 1},
		{"clamped high", "GOLD", 500, 120},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := battle.ResolveDuration(tc.difficulty, tc.override); got != tc.want {
				t.Errorf("ResolveDuration(%q, %d) = %d, want %d", tc.difficulty, tc.override, got, tc.want)
			}
		})
	}
}
