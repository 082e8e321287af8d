package api

import (
	"net/http"
	"testing"

	appErr "arena-service/pkg/errors"
)

func TestBattleStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", appErr.ErrRoomNotFound, http.StatusNotFound},
		{"validation", appErr.ErrInvalidBet, http.StatusBadRequest},
		{"conflict", appErr.ErrRoomFull, http.StatusConflict},
		{"self join", appErr.ErrSelfJoin, http.StatusConflict},
		{"insufficient points", appErr.ErrInsufficientPoints, http.StatusPaymentRequired},
		{"cooldown", appErr.ErrSubmitCooldown, http.StatusTooManyRequests},
		{"lock timeout", appErr.ErrLockTimeout, http.StatusServiceUnavailable},
		{"unknown", appErr.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := battleStatus(tc.err); got != tc.want {
				t.Errorf("battleStatus(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
