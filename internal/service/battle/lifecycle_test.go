package battle_test

import (
	"context"
	"testing"
	"time"

	"arena-service/internal/model"
	"arena-service/internal/service/battle"
	appErr "arena-service/pkg/errors"
)

func TestReadyFlowStartsMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp := env.createRoom(t, battle.CreateRoomRequest{
		UserID: 1, Title: "duel", BetAmount: 200, LanguageID: 1,
	})
	if _, err := env.svc.JoinRoom(ctx, resp.RoomID, 2, ""); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := env.svc.SetReady(ctx, resp.RoomID, 1, true); err != nil {
		t.Fatalf("host ready failed: %v", err)
	}

	// One ready is not enough.
	state := env.mustRoom(t, resp.RoomID)
	if state.Status != battle.StatusWaiting {
		t.Fatalf("expected WAITING with one ready, got %s", state.Status)
	}

	if err := env.svc.SetReady(ctx, resp.RoomID, 2, true); err != nil {
		t.Fatalf("guest ready failed: %v", err)
	}

	state = env.mustRoom(t, resp.RoomID)
	if state.Status != battle.StatusCountdown {
		t.Fatalf("expected COUNTDOWN, got %s", state.Status)
	}
	if state.MatchID == "" {
		t.Fatal("expected a match id")
	}
	for _, userID := range []int64{1, 2} {
		balance, err := env.points.Balance(ctx, userID)
		if err != nil {
			t.Fatalf("balance lookup failed: %v", err)
		}
		if balance != 800 {
			t.Fatalf("user %d: expected 800 after hold, got %d", userID, balance)
		}
	}

	match := env.mustMatch(t, state.MatchID)
	if match.Status != string(battle.StatusCountdown) || match.SettlementStatus != battle.SettlementPending {
		t.Fatalf("unexpected match row: status=%s settlement=%s", match.Status, match.SettlementStatus)
	}

	env.clock.BlockUntil(1)
	env.clock.Advance(time.Second)
	running := env.waitForStatus(t, resp.RoomID, battle.StatusRunning)
	if running.StartedAt == nil {
		t.Fatal("expected startedAt set")
	}

	match = env.mustMatch(t, state.MatchID)
	if match.Status != string(battle.StatusRunning) || match.StartedAt == nil {
		t.Fatalf("match row not running: status=%s", match.Status)
	}
}

func TestReadyHoldFailureRevertsToWaiting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp := env.createRoom(t, battle.CreateRoomRequest{
		UserID: 1, Title: "duel", BetAmount: 500, LanguageID: 1,
	})
	if _, err := env.svc.JoinRoom(ctx, resp.RoomID, 2, ""); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	// Freeze most of the guest's points elsewhere so their hold fails.
	if err := env.points.HoldBet(ctx, "other-match", 2, 900); err != nil {
		t.Fatalf("drain hold failed: %v", err)
	}

	if err := env.svc.SetReady(ctx, resp.RoomID, 1, true); err != nil {
		t.Fatalf("host ready failed: %v", err)
	}
	err := env.svc.SetReady(ctx, resp.RoomID, 2, true)
	if !appErr.Is(err, appErr.ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}

	state := env.mustRoom(t, resp.RoomID)
	if state.Status != battle.StatusWaiting || state.MatchID != "" {
		t.Fatalf("expected reverted WAITING room, got status=%s matchID=%q", state.Status, state.MatchID)
	}
	for _, p := range state.Participants {
		if p.Ready {
			t.Fatalf("user %d still ready after revert", p.UserID)
		}
	}

	// The host's hold was released again.
	balance, err := env.points.Balance(ctx, 1)
	if err != nil {
		t.Fatalf("balance lookup failed: %v", err)
	}
	if balance != 1000 {
		t.Fatalf("expected host balance restored to 1000, got %d", balance)
	}

	var match model.Match
	if err := env.db.First(&match, "host_user_id = ?", int64(1)).Error; err != nil {
		t.Fatalf("match lookup failed: %v", err)
	}
	if match.Status != string(battle.StatusAbandoned) {
		t.Fatalf("expected ABANDONED match row, got %s", match.Status)
	}
}

func TestSurrenderSettlesWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	state := env.startRunningMatch(t, 200)

	if err := env.svc.Surrender(ctx, state.RoomID, 2); err != nil {
		t.Fatalf("surrender failed: %v", err)
	}

	state = env.mustRoom(t, state.RoomID)
	if state.Status != battle.StatusFinished {
		t.Fatalf("expected FINISHED, got %s", state.Status)
	}
	if state.WinnerUserID != 1 || state.WinReason != battle.WinReasonSurrender {
		t.Fatalf("unexpected result: winner=%d reason=%s", state.WinnerUserID, state.WinReason)
	}

	match := env.mustMatch(t, state.MatchID)
	if match.SettlementStatus != battle.SettlementDone {
		t.Fatalf("expected DONE settlement, got %s", match.SettlementStatus)
	}
	if match.WinnerUserID == nil || *match.WinnerUserID != 1 {
		t.Fatalf("match row winner not recorded: %+v", match.WinnerUserID)
	}

	hostBalance, _ := env.points.Balance(ctx, 1)
	guestBalance, _ := env.points.Balance(ctx, 2)
	if hostBalance != 1200 || guestBalance != 800 {
		t.Fatalf("expected 1200/800 after settlement, got %d/%d", hostBalance, guestBalance)
	}

	// Surrendering a finished match is rejected.
	if err := env.svc.Surrender(ctx, state.RoomID, 1); !appErr.Is(err, appErr.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestLeaveRunningMatchForfeits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	state := env.startRunningMatch(t, 200)

	if err := env.svc.LeaveRoom(ctx, state.RoomID, 1); err != nil {
		t.Fatalf("leave failed: %v", err)
	}

	state = env.mustRoom(t, state.RoomID)
	if state.Status != battle.StatusFinished {
		t.Fatalf("expected FINISHED, got %s", state.Status)
	}
	if state.WinnerUserID != 2 || state.WinReason != battle.WinReasonLeave {
		t.Fatalf("unexpected result: winner=%d reason=%s", state.WinnerUserID, state.WinReason)
	}
	if state.IsParticipant(1) {
		t.Fatal("leaver still in room")
	}

	hostBalance, _ := env.points.Balance(ctx, 1)
	guestBalance, _ := env.points.Balance(ctx, 2)
	if hostBalance != 800 || guestBalance != 1200 {
		t.Fatalf("expected 800/1200 after forfeit, got %d/%d", hostBalance, guestBalance)
	}
}

func TestTimeoutRefundsBoth(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	state := env.startRunningMatch(t, 200)

	// The deadline watcher sleeps on the fake clock.
	env.clock.BlockUntil(1)
	env.clock.Advance(time.Duration(state.MaxDurationMinutes) * time.Minute)
	state = env.waitForStatus(t, state.RoomID, battle.StatusFinished)

	if state.WinnerUserID != 0 || state.WinReason != battle.WinReasonTimeout {
		t.Fatalf("unexpected result: winner=%d reason=%s", state.WinnerUserID, state.WinReason)
	}

	match := env.mustMatch(t, state.MatchID)
	if match.SettlementStatus != battle.SettlementDone {
		t.Fatalf("expected DONE settlement, got %s", match.SettlementStatus)
	}
	for _, userID := range []int64{1, 2} {
		balance, _ := env.points.Balance(ctx, userID)
		if balance != 1000 {
			t.Fatalf("user %d: expected refunded 1000, got %d", userID, balance)
		}
	}

	// Settlement is idempotent through the manual retry path.
	if err := env.svc.Settle(ctx, state.MatchID); err != nil {
		t.Fatalf("settle retry failed: %v", err)
	}
}

func TestLeaveDuringCountdownAborts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp := env.createRoom(t, battle.CreateRoomRequest{
		UserID: 1, Title: "duel", BetAmount: 200, LanguageID: 1,
	})
	if _, err := env.svc.JoinRoom(ctx, resp.RoomID, 2, ""); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := env.svc.SetReady(ctx, resp.RoomID, 1, true); err != nil {
		t.Fatalf("host ready failed: %v", err)
	}
	if err := env.svc.SetReady(ctx, resp.RoomID, 2, true); err != nil {
		t.Fatalf("guest ready failed: %v", err)
	}
	matchID := env.mustRoom(t, resp.RoomID).MatchID

	if err := env.svc.LeaveRoom(ctx, resp.RoomID, 1); err != nil {
		t.Fatalf("leave during countdown failed: %v", err)
	}

	state := env.mustRoom(t, resp.RoomID)
	if state.Status != battle.StatusWaiting || state.HostUserID != 2 {
		t.Fatalf("expected WAITING with promoted host, got status=%s host=%d", state.Status, state.HostUserID)
	}

	match := env.mustMatch(t, matchID)
	if match.Status != string(battle.StatusAbandoned) || match.SettlementStatus != battle.SettlementDone {
		t.Fatalf("expected refunded ABANDONED match, got status=%s settlement=%s", match.Status, match.SettlementStatus)
	}
	for _, userID := range []int64{1, 2} {
		balance, _ := env.points.Balance(ctx, userID)
		if balance != 1000 {
			t.Fatalf("user %d: expected refunded 1000, got %d", userID, balance)
		}
	}

	// The remaining player sits out the ready cooldown.
	if err := env.svc.SetReady(ctx, resp.RoomID, 2, true); !appErr.Is(err, appErr.ErrReadyCooldown) {
		t.Fatalf("expected ErrReadyCooldown, got %v", err)
	}
	env.clock.Advance(env.cfg.ReadyCooldown)
	if err := env.svc.SetReady(ctx, resp.RoomID, 2, true); err != nil {
		t.Fatalf("ready after cooldown failed: %v", err)
	}
}

func TestUnreadyDuringCountdownAborts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp := env.createRoom(t, battle.CreateRoomRequest{
		UserID: 1, Title: "duel", BetAmount: 200, LanguageID: 1,
	})
	if _, err := env.svc.JoinRoom(ctx, resp.RoomID, 2, ""); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := env.svc.SetReady(ctx, resp.RoomID, 1, true); err != nil {
		t.Fatalf("host ready failed: %v", err)
	}
	if err := env.svc.SetReady(ctx, resp.RoomID, 2, true); err != nil {
		t.Fatalf("guest ready failed: %v", err)
	}
	matchID := env.mustRoom(t, resp.RoomID).MatchID

	// Re-readying is pointless once the countdown runs.
	if err := env.svc.SetReady(ctx, resp.RoomID, 1, true); !appErr.Is(err, appErr.ErrCountdownStarted) {
		t.Fatalf("expected ErrCountdownStarted, got %v", err)
	}

	if err := env.svc.SetReady(ctx, resp.RoomID, 2, false); err != nil {
		t.Fatalf("unready during countdown failed: %v", err)
	}

	state := env.mustRoom(t, resp.RoomID)
	if state.Status != battle.StatusWaiting || state.MatchID != "" {
		t.Fatalf("expected aborted WAITING room, got status=%s matchID=%q", state.Status, state.MatchID)
	}
	match := env.mustMatch(t, matchID)
	if match.Status != string(battle.StatusAbandoned) || match.SettlementStatus != battle.SettlementDone {
		t.Fatalf("expected refunded ABANDONED match, got status=%s settlement=%s", match.Status, match.SettlementStatus)
	}
	for _, userID := range []int64{1, 2} {
		balance, _ := env.points.Balance(ctx, userID)
		if balance != 1000 {
			t.Fatalf("user %d: expected refunded 1000, got %d", userID, balance)
		}
	}
}

func TestSurrenderDuringCountdownForfeits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp := env.createRoom(t, battle.CreateRoomRequest{
		UserID: 1, Title: "duel", BetAmount: 200, LanguageID: 1,
	})
	if _, err := env.svc.JoinRoom(ctx, resp.RoomID, 2, ""); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := env.svc.SetReady(ctx, resp.RoomID, 1, true); err != nil {
		t.Fatalf("host ready failed: %v", err)
	}
	if err := env.svc.SetReady(ctx, resp.RoomID, 2, true); err != nil {
		t.Fatalf("guest ready failed: %v", err)
	}

	if err := env.svc.Surrender(ctx, resp.RoomID, 2); err != nil {
		t.Fatalf("countdown surrender failed: %v", err)
	}

	state := env.mustRoom(t, resp.RoomID)
	if state.Status != battle.StatusFinished || state.WinnerUserID != 1 || state.WinReason != battle.WinReasonSurrender {
		t.Fatalf("unexpected result: status=%s winner=%d reason=%s", state.Status, state.WinnerUserID, state.WinReason)
	}
	hostBalance, _ := env.points.Balance(ctx, 1)
	if hostBalance != 1200 {
		t.Fatalf("expected 1200 after forfeit settlement, got %d", hostBalance)
	}
}

func TestPostGameResetsRoomForRematch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	state := env.startRunningMatch(t, 200)
	matchID := state.MatchID

	if err := env.svc.Surrender(ctx, state.RoomID, 2); err != nil {
		t.Fatalf("surrender failed: %v", err)
	}

	// Two fake-clock sleepers now: the stale deadline watcher and the
	// post-game cleanup timer.
	env.clock.BlockUntil(2)
	env.clock.Advance(env.cfg.PostGameHold)

	fresh := env.waitForStatus(t, state.RoomID, battle.StatusWaiting)
	if fresh.MatchID != "" || fresh.WinnerUserID != 0 || fresh.WinReason != "" {
		t.Fatalf("room not reset: %+v", fresh)
	}
	if len(fresh.Participants) != 2 {
		t.Fatalf("expected both players kept for a rematch, got %d", len(fresh.Participants))
	}
	for _, p := range fresh.Participants {
		if p.Ready || p.Surrendered || p.AcAt != nil || p.JudgeMessage != "" {
			t.Fatalf("participant %d carries stale match state: %+v", p.UserID, p)
		}
	}
	if roomID, _ := env.store.MatchRoom(ctx, matchID); roomID != "" {
		t.Fatalf("match-to-room mapping not cleared: %q", roomID)
	}
}

func TestZeroBetMatchSkipsLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	state := env.startRunningMatch(t, 0)

	if err := env.svc.Surrender(ctx, state.RoomID, 2); err != nil {
		t.Fatalf("surrender failed: %v", err)
	}

	match := env.mustMatch(t, state.MatchID)
	if match.SettlementStatus != battle.SettlementDone {
		t.Fatalf("expected DONE settlement, got %s", match.SettlementStatus)
	}
	for _, userID := range []int64{1, 2} {
		balance, _ := env.points.Balance(ctx, userID)
		if balance != 1000 {
			t.Fatalf("user %d: expected untouched 1000, got %d", userID, balance)
		}
	}
	var holds int64
	if err := env.db.Model(&model.PointHold{}).Where("match_id = ?", state.MatchID).Count(&holds).Error; err != nil {
		t.Fatalf("hold count failed: %v", err)
	}
	if holds != 0 {
		t.Fatalf("expected no holds for zero bet, got %d", holds)
	}
}

func TestSettleRejectsUnfinishedMatch(t *testing.T) {
	env := newTestEnv(t)
	state := env.startRunningMatch(t, 200)

	if err := env.svc.Settle(context.Background(), state.MatchID); !appErr.Is(err, appErr.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if err := env.svc.Settle(context.Background(), "no-such-match"); !appErr.Is(err, appErr.ErrMatchNotFound) {
		t.Fatalf("expected ErrMatchNotFound, got %v", err)
	}
}

// A running room whose deadline already passed (a crashed watcher,
// for example) is finished lazily by the first read.
func TestGetRoomFinishesExpiredMatchLazily(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	startedAt := env.clock.Now().Add(-11 * time.Minute)
	guestID := int64(2)
	state := &battle.RoomState{
		RoomID:             "expired-room",
		MatchID:            "expired-match",
		Title:              "duel",
		Status:             battle.StatusRunning,
		HostUserID:         1,
		GuestUserID:        guestID,
		ProblemID:          42,
		LanguageID:         1,
		MaxDurationMinutes: 10,
		StartedAt:          &startedAt,
		Participants: map[int64]*battle.Participant{
			1: {UserID: 1, Nickname: "host"},
			2: {UserID: 2, Nickname: "guest"},
		},
	}
	if err := env.store.SaveRoom(ctx, state); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := env.db.Create(&model.Match{
		MatchID:          "expired-match",
		Status:           string(battle.StatusRunning),
		HostUserID:       1,
		GuestUserID:      &guestID,
		AlgoProblemID:    42,
		LanguageID:       1,
		RoomTitle:        "duel",
		StartedAt:        &startedAt,
		SettlementStatus: battle.SettlementPending,
	}).Error; err != nil {
		t.Fatalf("match seed failed: %v", err)
	}

	resp, err := env.svc.GetRoom(ctx, "expired-room")
	if err != nil {
		t.Fatalf("get room failed: %v", err)
	}
	if resp.Status != battle.StatusFinished || resp.WinReason != battle.WinReasonTimeout {
		t.Fatalf("expected lazy TIMEOUT finish, got status=%s reason=%s", resp.Status, resp.WinReason)
	}
	match := env.mustMatch(t, "expired-match")
	if match.SettlementStatus != battle.SettlementDone {
		t.Fatalf("expected DONE settlement, got %s", match.SettlementStatus)
	}
}
