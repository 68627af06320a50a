package session

import (
	"strings"

	"casper-chat/internal/models"
)

const roomSeparator = "-"

// RoomKey is the canonical private room for two users: both names
// lowercased, sorted and joined, so RoomKey(a, b) == RoomKey(b, a).
func RoomKey(a, b string) string {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if b < a {
		a, b = b, a
	}
	return a + roomSeparator + b
}

// ParseRoomKey splits a private room key into its participants. Only keys
// RoomKey could have produced are accepted.
func ParseRoomKey(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, roomSeparator)
	if !ok || a == "" || b == "" || strings.Contains(b, roomSeparator) || a == b {
		return "", "", false
	}
	if RoomKey(a, b) != key {
		return "", "", false
	}
	return a, b, true
}

// IsParticipant reports whether username may join room.
func IsParticipant(room, username string) bool {
	if room == models.GlobalRoom {
		return true
	}
	a, b, ok := ParseRoomKey(room)
	if !ok {
		return false
	}
	name := strings.ToLower(username)
	return name == a || name == b
}
