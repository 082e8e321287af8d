package battle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	appErr "arena-service/pkg/errors"

	"github.com/redis/go-redis/v9"
)

// RoomStore persists room state and the small index structures around
// it (lobby set, kicked sets, per-user active room, match->room map).
// The redis implementation is the only one used in production; tests
// swap in an in-memory store.
type RoomStore interface {
	GetRoom(ctx context.Context, roomID string) (*RoomState, error)
	SaveRoom(ctx context.Context, state *RoomState) error
	DeleteRoom(ctx context.Context, roomID string) error

	LobbyAdd(ctx context.Context, roomID string) error
	LobbyRemove(ctx context.Context, roomID string) error
	LobbyList(ctx context.Context) ([]string, error)

	KickedAdd(ctx context.Context, roomID string, userID int64) error
	IsKicked(ctx context.Context, roomID string, userID int64) (bool, error)
	ClearKicked(ctx context.Context, roomID string) error

	SetActiveRoom(ctx context.Context, userID int64, roomID string) error
	ActiveRoom(ctx context.Context, userID int64) (string, error)
	ClearActiveRoom(ctx context.Context, userID int64, roomID string) error

	SetMatchRoom(ctx context.Context, matchID, roomID string) error
	MatchRoom(ctx context.Context, matchID string) (string, error)
	ClearMatchRoom(ctx context.Context, matchID string) error

	// PasswordFailure records one failed password attempt and returns
	// the failure count inside the current window.
	PasswordFailure(ctx context.Context, roomID string, userID int64, window time.Duration) (int64, error)
	ClearPasswordFailures(ctx context.Context, roomID string, userID int64) error
	LockPassword(ctx context.Context, roomID string, userID int64, ttl time.Duration) error
	IsPasswordLocked(ctx context.Context, roomID string, userID int64) (bool, error)

	// DisconnectStrike records one disconnect forfeit and returns the
	// strike count inside the current window.
	DisconnectStrike(ctx context.Context, userID int64, window time.Duration) (int64, error)
	SuspendUser(ctx context.Context, userID int64, ttl time.Duration) error
	IsSuspended(ctx context.Context, userID int64) (bool, error)
}

type RedisRoomStore struct {
	rdb *redis.Client
}

func NewRedisRoomStore(rdb *redis.Client) *RedisRoomStore {
	return &RedisRoomStore{rdb: rdb}
}

func (s *RedisRoomStore) GetRoom(ctx context.Context, roomID string) (*RoomState, error) {
	raw, err := s.rdb.Get(ctx, buildRoomKey(roomID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErr.ErrRoomNotFound
		}
		return nil, err
	}
	var state RoomState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *RedisRoomStore) SaveRoom(ctx context.Context, state *RoomState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, buildRoomKey(state.RoomID), raw, 0).Err()
}

func (s *RedisRoomStore) DeleteRoom(ctx context.Context, roomID string) error {
	return s.rdb.Del(ctx, buildRoomKey(roomID)).Err()
}

func (s *RedisRoomStore) LobbyAdd(ctx context.Context, roomID string) error {
	return s.rdb.SAdd(ctx, buildLobbyKey(), roomID).Err()
}

func (s *RedisRoomStore) LobbyRemove(ctx context.Context, roomID string) error {
	return s.rdb.SRem(ctx, buildLobbyKey(), roomID).Err()
}

func (s *RedisRoomStore) LobbyList(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, buildLobbyKey()).Result()
}

func (s *RedisRoomStore) KickedAdd(ctx context.Context, roomID string, userID int64) error {
	return s.rdb.SAdd(ctx, buildKickedKey(roomID), userID).Err()
}

func (s *RedisRoomStore) IsKicked(ctx context.Context, roomID string, userID int64) (bool, error) {
	return s.rdb.SIsMember(ctx, buildKickedKey(roomID), userID).Result()
}

func (s *RedisRoomStore) ClearKicked(ctx context.Context, roomID string) error {
	return s.rdb.Del(ctx, buildKickedKey(roomID)).Err()
}

func (s *RedisRoomStore) SetActiveRoom(ctx context.Context, userID int64, roomID string) error {
	return s.rdb.Set(ctx, buildActiveRoomKey(userID), roomID, 0).Err()
}

func (s *RedisRoomStore) ActiveRoom(ctx context.Context, userID int64) (string, error) {
	roomID, err := s.rdb.Get(ctx, buildActiveRoomKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return roomID, err
}

// ClearActiveRoom drops the mapping only when it still points at the
// given room, so a stale cleanup cannot erase membership in a room the
// user joined afterwards.
func (s *RedisRoomStore) ClearActiveRoom(ctx context.Context, userID int64, roomID string) error {
	current, err := s.ActiveRoom(ctx, userID)
	if err != nil {
		return err
	}
	if current != roomID {
		return nil
	}
	return s.rdb.Del(ctx, buildActiveRoomKey(userID)).Err()
}

func (s *RedisRoomStore) SetMatchRoom(ctx context.Context, matchID, roomID string) error {
	return s.rdb.Set(ctx, buildMatchRoomKey(matchID), roomID, 0).Err()
}

func (s *RedisRoomStore) MatchRoom(ctx context.Context, matchID string) (string, error) {
	roomID, err := s.rdb.Get(ctx, buildMatchRoomKey(matchID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return roomID, err
}

func (s *RedisRoomStore) ClearMatchRoom(ctx context.Context, matchID string) error {
	return s.rdb.Del(ctx, buildMatchRoomKey(matchID)).Err()
}

func (s *RedisRoomStore) PasswordFailure(ctx context.Context, roomID string, userID int64, window time.Duration) (int64, error) {
	key := buildPasswordFailKey(roomID, userID)
	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := s.rdb.Expire(ctx, key, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (s *RedisRoomStore) ClearPasswordFailures(ctx context.Context, roomID string, userID int64) error {
	return s.rdb.Del(ctx, buildPasswordFailKey(roomID, userID)).Err()
}

func (s *RedisRoomStore) LockPassword(ctx context.Context, roomID string, userID int64, ttl time.Duration) error {
	return s.rdb.Set(ctx, buildPasswordLockKey(roomID, userID), 1, ttl).Err()
}

func (s *RedisRoomStore) IsPasswordLocked(ctx context.Context, roomID string, userID int64) (bool, error) {
	_, err := s.rdb.Get(ctx, buildPasswordLockKey(roomID, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisRoomStore) DisconnectStrike(ctx context.Context, userID int64, window time.Duration) (int64, error) {
	key := buildDisconnectStrikeKey(userID)
	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := s.rdb.Expire(ctx, key, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (s *RedisRoomStore) SuspendUser(ctx context.Context, userID int64, ttl time.Duration) error {
	return s.rdb.Set(ctx, buildSuspensionKey(userID), 1, ttl).Err()
}

func (s *RedisRoomStore) IsSuspended(ctx context.Context, userID int64) (bool, error) {
	_, err := s.rdb.Get(ctx, buildSuspensionKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
