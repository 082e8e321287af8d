package battle_test

import (
	"context"
	"testing"
	"time"

	"arena-service/internal/service/battle"
	appErr "arena-service/pkg/errors"
)

func TestDisconnectForfeitsAfterGrace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	state := env.startRunningMatch(t, 100)

	env.svc.HandleDisconnect(ctx, 2, state.RoomID)

	marked := env.mustRoom(t, state.RoomID)
	if marked.Participant(2).DisconnectedAt == nil {
		t.Fatal("expected disconnect timestamp on the guest")
	}

	// Two sleepers: the deadline watcher and the grace timer.
	env.clock.BlockUntil(2)
	env.clock.Advance(env.cfg.DisconnectGrace)

	finished := env.waitForStatus(t, state.RoomID, battle.StatusFinished)
	if finished.WinnerUserID != 1 || finished.WinReason != battle.WinReasonDisconnect {
		t.Fatalf("expected host win by DISCONNECT, got winner=%d reason=%s",
			finished.WinnerUserID, finished.WinReason)
	}

	match := env.mustMatch(t, state.MatchID)
	if match.SettlementStatus != battle.SettlementDone {
		t.Fatalf("expected settlement DONE, got %s", match.SettlementStatus)
	}
	if balance, _ := env.points.Balance(ctx, 1); balance != 1100 {
		t.Fatalf("expected winner balance 1100, got %d", balance)
	}
	if balance, _ := env.points.Balance(ctx, 2); balance != 900 {
		t.Fatalf("expected loser balance 900, got %d", balance)
	}
}

func TestReconnectWithinGraceCancelsForfeit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	state := env.startRunningMatch(t, 100)

	env.svc.HandleDisconnect(ctx, 2, state.RoomID)
	env.svc.HandleReconnect(ctx, 2, state.RoomID)

	cleared := env.mustRoom(t, state.RoomID)
	if cleared.Participant(2).DisconnectedAt != nil {
		t.Fatal("expected disconnect timestamp cleared after reconnect")
	}

	env.clock.BlockUntil(2)
	env.clock.Advance(env.cfg.DisconnectGrace)
	// Give the disarmed grace timer a moment to run.
	time.Sleep(50 * time.Millisecond)

	after := env.mustRoom(t, state.RoomID)
	if after.Status != battle.StatusRunning || after.WinnerUserID != 0 {
		t.Fatalf("expected the match to keep running, got %+v", after)
	}
}

func TestLobbySocketCloseDoesNotForfeit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	state := env.startRunningMatch(t, 100)

	// A socket watching another room has no bearing on the match.
	env.svc.HandleDisconnect(ctx, 2, "lobby")

	after := env.mustRoom(t, state.RoomID)
	if after.Participant(2).DisconnectedAt != nil {
		t.Fatal("unrelated socket close must not mark the participant")
	}
}

func TestDisconnectLossSuspendsRepeatOffender(t *testing.T) {
	env := newTestEnvTuned(t, func(cfg *battle.Config) {
		cfg.DisconnectStrikeLimit = 1
	})
	ctx := context.Background()
	state := env.startRunningMatch(t, 0)

	env.svc.HandleDisconnect(ctx, 2, state.RoomID)
	env.clock.BlockUntil(2)
	env.clock.Advance(env.cfg.DisconnectGrace)
	env.waitForStatus(t, state.RoomID, battle.StatusFinished)

	// The strike is recorded after the forfeit settles.
	deadline := time.Now().Add(3 * time.Second)
	for {
		if suspended, _ := env.store.IsSuspended(ctx, 2); suspended {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("user never got suspended")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := env.svc.LeaveRoom(ctx, state.RoomID, 2); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if _, err := env.svc.CreateRoom(ctx, battle.CreateRoomRequest{
		UserID: 2, Title: "fresh", LanguageID: 1,
	}); !appErr.Is(err, appErr.ErrSuspended) {
		t.Fatalf("expected ErrSuspended on create, got %v", err)
	}

	other := env.createRoom(t, battle.CreateRoomRequest{UserID: 3, Title: "open", LanguageID: 1})
	if _, err := env.svc.JoinRoom(ctx, other.RoomID, 2, ""); !appErr.Is(err, appErr.ErrSuspended) {
		t.Fatalf("expected ErrSuspended on join, got %v", err)
	}
}
