package capability

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// RoleSpectator marks a read-only, room-scoped identity.
const RoleSpectator = "spectator"

// TokenLifetime is the fixed validity window embedded at mint time.
const TokenLifetime = 24 * time.Hour

// Errors returned by issuance, verification and authorization.
var (
	ErrInvalidRequest = errors.New("capability: at least one room id is required")
	ErrInvalidToken   = errors.New("capability: invalid token")
	ErrTokenExpired   = errors.New("capability: token has expired")
	ErrRoomDenied     = errors.New("capability: room not covered by token")
)

// Claims is the authority carried by a spectator token. It grants read
// access to exactly the rooms mapped to true, and only while the current
// time is before ExpiresAt.
type Claims struct {
	UID        string          `json:"uid"`
	Role       string          `json:"role"`
	RoomAccess map[string]bool `json:"roomAccess"`
	ExpiresAt  int64           `json:"expiresAt"`
}

// CustomClaims returns the developer claims embedded into a signed token.
func (c *Claims) CustomClaims() map[string]interface{} {
	access := make(map[string]interface{}, len(c.RoomAccess))
	for id, ok := range c.RoomAccess {
		access[id] = ok
	}
	return map[string]interface{}{
		"role":       c.Role,
		"roomAccess": access,
		"expiresAt":  c.ExpiresAt,
	}
}

// Expiry returns ExpiresAt as a time.
func (c *Claims) Expiry() time.Time {
	return time.UnixMilli(c.ExpiresAt)
}

// ClaimsFromMap extracts spectator claims from decoded JWT claims. Numbers
// may arrive as float64 or json.Number depending on the decoder.
func ClaimsFromMap(uid string, m map[string]interface{}) (*Claims, error) {
	if uid == "" {
		return nil, fmt.Errorf("%w: missing uid", ErrInvalidToken)
	}
	c := &Claims{UID: uid, RoomAccess: make(map[string]bool)}

	if role, ok := m["role"].(string); ok {
		c.Role = role
	}

	if access, ok := m["roomAccess"].(map[string]interface{}); ok {
		for id, v := range access {
			if granted, ok := v.(bool); ok && granted {
				c.RoomAccess[id] = true
			}
		}
	}

	exp, err := millis(m["expiresAt"])
	if err != nil {
		return nil, fmt.Errorf("%w: expiresAt: %v", ErrInvalidToken, err)
	}
	c.ExpiresAt = exp
	return c, nil
}

func millis(v interface{}) (int64, error) {
	switch n := v.(type) {
	case nil:
		// A missing deadline is treated as already expired.
		return 0, nil
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// Authorize decides whether claims grant read access to roomID at now.
// Both the room scope and the deadline are evaluated on every call.
func Authorize(c *Claims, roomID string, now time.Time) error {
	if c == nil || c.Role != RoleSpectator {
		return ErrInvalidToken
	}
	if now.UnixMilli() >= c.ExpiresAt {
		return ErrTokenExpired
	}
	if !c.RoomAccess[roomID] {
		return fmt.Errorf("%w: %s", ErrRoomDenied, roomID)
	}
	return nil
}

// AllowedRooms returns the rooms granted by c in sorted order.
func AllowedRooms(c *Claims) []string {
	rooms := make([]string, 0, len(c.RoomAccess))
	for id, ok := range c.RoomAccess {
		if ok {
			rooms = append(rooms, id)
		}
	}
	sort.Strings(rooms)
	return rooms
}
