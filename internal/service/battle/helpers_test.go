package battle_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"arena-service/internal/model"
	"arena-service/internal/service/battle"
	"arena-service/internal/service/point"
	appErr "arena-service/pkg/errors"
	"arena-service/pkg/lock"
	"arena-service/pkg/logger"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	logger.InitLogger("debug")
}

// memStore is an in-memory battle.RoomStore. Room reads return deep
// copies, matching the serialize-through-redis behavior of the real
// store.
type memStore struct {
	mu          sync.Mutex
	rooms       map[string][]byte
	lobby       map[string]struct{}
	kicked      map[string]map[int64]struct{}
	activeRooms map[int64]string
	matchRooms  map[string]string
	pwFails     map[string]int64
	pwLocks     map[string]struct{}
	dcStrikes   map[int64]int64
	suspended   map[int64]struct{}
}

func newMemStore() *memStore {
	return &memStore{
		rooms:       make(map[string][]byte),
		lobby:       make(map[string]struct{}),
		kicked:      make(map[string]map[int64]struct{}),
		activeRooms: make(map[int64]string),
		matchRooms:  make(map[string]string),
		pwFails:     make(map[string]int64),
		pwLocks:     make(map[string]struct{}),
		dcStrikes:   make(map[int64]int64),
		suspended:   make(map[int64]struct{}),
	}
}

func (m *memStore) GetRoom(_ context.Context, roomID string) (*battle.RoomState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.rooms[roomID]
	if !ok {
		return nil, appErr.ErrRoomNotFound
	}
	var state battle.RoomState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (m *memStore) SaveRoom(_ context.Context, state *battle.RoomState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[state.RoomID] = raw
	return nil
}

func (m *memStore) DeleteRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
	return nil
}

func (m *memStore) LobbyAdd(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lobby[roomID] = struct{}{}
	return nil
}

func (m *memStore) LobbyRemove(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lobby, roomID)
	return nil
}

func (m *memStore) LobbyList(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.lobby))
	for id := range m.lobby {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) KickedAdd(_ context.Context, roomID string, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.kicked[roomID]
	if !ok {
		set = make(map[int64]struct{})
		m.kicked[roomID] = set
	}
	set[userID] = struct{}{}
	return nil
}

func (m *memStore) IsKicked(_ context.Context, roomID string, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.kicked[roomID][userID]
	return ok, nil
}

func (m *memStore) ClearKicked(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kicked, roomID)
	return nil
}

func (m *memStore) SetActiveRoom(_ context.Context, userID int64, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeRooms[userID] = roomID
	return nil
}

func (m *memStore) ActiveRoom(_ context.Context, userID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeRooms[userID], nil
}

func (m *memStore) ClearActiveRoom(_ context.Context, userID int64, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeRooms[userID] == roomID {
		delete(m.activeRooms, userID)
	}
	return nil
}

func (m *memStore) SetMatchRoom(_ context.Context, matchID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchRooms[matchID] = roomID
	return nil
}

func (m *memStore) MatchRoom(_ context.Context, matchID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matchRooms[matchID], nil
}

func (m *memStore) ClearMatchRoom(_ context.Context, matchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.matchRooms, matchID)
	return nil
}

func pwKey(roomID string, userID int64) string {
	return fmt.Sprintf("%s:%d", roomID, userID)
}

func (m *memStore) PasswordFailure(_ context.Context, roomID string, userID int64, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pwFails[pwKey(roomID, userID)]++
	return m.pwFails[pwKey(roomID, userID)], nil
}

func (m *memStore) ClearPasswordFailures(_ context.Context, roomID string, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pwFails, pwKey(roomID, userID))
	return nil
}

func (m *memStore) LockPassword(_ context.Context, roomID string, userID int64, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pwLocks[pwKey(roomID, userID)] = struct{}{}
	return nil
}

func (m *memStore) IsPasswordLocked(_ context.Context, roomID string, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pwLocks[pwKey(roomID, userID)]
	return ok, nil
}

func (m *memStore) DisconnectStrike(_ context.Context, userID int64, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dcStrikes[userID]++
	return m.dcStrikes[userID], nil
}

func (m *memStore) SuspendUser(_ context.Context, userID int64, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspended[userID] = struct{}{}
	return nil
}

func (m *memStore) IsSuspended(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.suspended[userID]
	return ok, nil
}

// fakeLockRediser backs the lock manager without a redis server.
type fakeLockRediser struct {
	mu   sync.Mutex
	vals map[string]string
}

func newFakeLockRediser() *fakeLockRediser {
	return &fakeLockRediser{vals: make(map[string]string)}
}

func (f *fakeLockRediser) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.vals[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.vals[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeLockRediser) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vals[keys[0]] == fmt.Sprint(args[0]) {
		delete(f.vals, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

// stubJudge accepts a submission when its verdict func says so. A
// non-nil err simulates an unreachable judge backend.
type stubJudge struct {
	err     error
	verdict func(cmd battle.JudgeCommand) battle.JudgeResult
}

func (j *stubJudge) Judge(_ context.Context, cmd battle.JudgeCommand) (battle.JudgeResult, error) {
	if j.err != nil {
		return battle.JudgeResult{}, j.err
	}
	if j.verdict == nil {
		return battle.JudgeResult{Accepted: false, Message: "wrong answer"}, nil
	}
	return j.verdict(cmd), nil
}

func acceptAll(battle.JudgeCommand) battle.JudgeResult {
	return battle.JudgeResult{Accepted: true, Message: "accepted"}
}

type fakeUsers struct {
	profiles map[int64]*battle.Profile
}

func (f *fakeUsers) FindProfile(_ context.Context, userID int64) (*battle.Profile, error) {
	if p, ok := f.profiles[userID]; ok {
		return p, nil
	}
	return nil, appErr.ErrUserNotFound
}

// fakeProblems serves problems 1..999: ids below 500 are SILVER, the
// rest GOLD.
type fakeProblems struct{}

func (fakeProblems) RandomProblemID(context.Context) (int64, error) { return 42, nil }
func (fakeProblems) ProblemExists(_ context.Context, problemID int64) (bool, error) {
	return problemID < 1000, nil
}
func (fakeProblems) ProblemDifficulty(_ context.Context, problemID int64) (string, error) {
	if problemID >= 1000 {
		return "", appErr.ErrInvalidProblem
	}
	if problemID < 500 {
		return "SILVER", nil
	}
	return "GOLD", nil
}

type testEnv struct {
	svc    *battle.Service
	store  *memStore
	points *point.Service
	judge  *stubJudge
	clock  *clockwork.FakeClock
	db     *gorm.DB
	cfg    battle.Config
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvTuned(t, nil)
}

// newTestEnvTuned lets a test adjust the battle config before the
// service is built.
func newTestEnvTuned(t *testing.T, tune func(*battle.Config)) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.UserPoint{}, &model.PointHistory{}, &model.PointHold{}, &model.Match{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store := newMemStore()
	points := point.NewService(db, 0)
	clk := clockwork.NewFakeClock()
	judge := &stubJudge{}
	locks := lock.NewManager(newFakeLockRediser(), 5*time.Second, 100, time.Millisecond)

	cfg := battle.DefaultConfig()
	cfg.CountdownSeconds = 1
	if tune != nil {
		tune(&cfg)
	}

	users := &fakeUsers{profiles: map[int64]*battle.Profile{
		1: {UserID: 1, Nickname: "host"},
		2: {UserID: 2, Nickname: "guest"},
		3: {UserID: 3, Nickname: "third"},
	}}

	svc := battle.NewService(db, store, locks, points, judge, users, fakeProblems{}, clk, cfg)

	env := &testEnv{
		svc:    svc,
		store:  store,
		points: points,
		judge:  judge,
		clock:  clk,
		db:     db,
		cfg:    cfg,
	}
	env.seedBalance(t, 1, 1000)
	env.seedBalance(t, 2, 1000)
	return env
}

func (e *testEnv) seedBalance(t *testing.T, userID, amount int64) {
	t.Helper()
	if err := e.points.Grant(context.Background(), userID, amount, "seed"); err != nil {
		t.Fatalf("failed to seed balance: %v", err)
	}
}

func (e *testEnv) createRoom(t *testing.T, req battle.CreateRoomRequest) *battle.RoomResponse {
	t.Helper()
	resp, err := e.svc.CreateRoom(context.Background(), req)
	if err != nil {
		t.Fatalf("create room failed: %v", err)
	}
	return resp
}

func (e *testEnv) mustRoom(t *testing.T, roomID string) *battle.RoomState {
	t.Helper()
	state, err := e.store.GetRoom(context.Background(), roomID)
	if err != nil {
		t.Fatalf("room lookup failed: %v", err)
	}
	return state
}

func (e *testEnv) mustMatch(t *testing.T, matchID string) *model.Match {
	t.Helper()
	var match model.Match
	if err := e.db.First(&match, "match_id = ?", matchID).Error; err != nil {
		t.Fatalf("match lookup failed: %v", err)
	}
	return &match
}

// waitForStatus polls the store in real time so asynchronous
// transitions driven by the fake clock can land.
func (e *testEnv) waitForStatus(t *testing.T, roomID string, want battle.Status) *battle.RoomState {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		state, err := e.store.GetRoom(context.Background(), roomID)
		if err == nil && state.Status == want {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}
	state, err := e.store.GetRoom(context.Background(), roomID)
	t.Fatalf("room %s never reached %s (state=%+v err=%v)", roomID, want, state, err)
	return nil
}

// startRunningMatch drives a room through ready, countdown and start.
func (e *testEnv) startRunningMatch(t *testing.T, betAmount int64) *battle.RoomState {
	t.Helper()
	ctx := context.Background()

	resp := e.createRoom(t, battle.CreateRoomRequest{
		UserID: 1, Title: "duel", BetAmount: betAmount, LanguageID: 1,
	})
	if _, err := e.svc.JoinRoom(ctx, resp.RoomID, 2, ""); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := e.svc.SetReady(ctx, resp.RoomID, 1, true); err != nil {
		t.Fatalf("host ready failed: %v", err)
	}
	if err := e.svc.SetReady(ctx, resp.RoomID, 2, true); err != nil {
		t.Fatalf("guest ready failed: %v", err)
	}

	state := e.mustRoom(t, resp.RoomID)
	if state.Status != battle.StatusCountdown {
		t.Fatalf("expected COUNTDOWN, got %s", state.Status)
	}

	// One countdown tick, then the start runs asynchronously.
	e.clock.BlockUntil(1)
	e.clock.Advance(time.Second)
	return e.waitForStatus(t, resp.RoomID, battle.StatusRunning)
}
