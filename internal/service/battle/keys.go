package battle

import "fmt"

func buildRoomKey(roomID string) string {
	return fmt.Sprintf("battle:room:%s", roomID)
}

func buildRoomLockKey(roomID string) string {
	return fmt.Sprintf("battle:room:lock:%s", roomID)
}

func buildUserLockKey(userID int64) string {
	return fmt.Sprintf("battle:user:lock:%d", userID)
}

func buildLobbyKey() string {
	return "battle:rooms"
}

func buildKickedKey(roomID string) string {
	return fmt.Sprintf("battle:room:kicked:%s", roomID)
}

func buildActiveRoomKey(userID int64) string {
	return fmt.Sprintf("battle:user:room:%d", userID)
}

func buildMatchRoomKey(matchID string) string {
	return fmt.Sprintf("battle:match:room:%s", matchID)
}

func buildPasswordFailKey(roomID string, userID int64) string {
	return fmt.Sprintf("battle:room:pwfail:%s:%d", roomID, userID)
}

func buildPasswordLockKey(roomID string, userID int64) string {
	return fmt.Sprintf("battle:room:pwlock:%s:%d", roomID, userID)
}

func buildDisconnectStrikeKey(userID int64) string {
	return fmt.Sprintf("battle:user:dcstrike:%d", userID)
}

func buildSuspensionKey(userID int64) string {
	return fmt.Sprintf("battle:user:suspended:%d", userID)
}
