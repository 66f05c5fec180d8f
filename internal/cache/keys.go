package cache

import (
	"fmt"
	"time"
)

const (
	ParticipantKeyPrefix = "directory:participant:%s"
	DealKeyPrefix        = "directory:deal:%s"
	UserDealsKeyPrefix   = "directory:user:%s:deals"
	RevokedTokenPrefix   = "blacklist:%s"
)

const (
	ParticipantTTL = 5 * time.Minute
	DealTTL        = 2 * time.Minute
	UserDealsTTL   = time.Minute
)

func ParticipantKey(id string) string {
	return fmt.Sprintf(ParticipantKeyPrefix, id)
}

func DealKey(id string) string {
	return fmt.Sprintf(DealKeyPrefix, id)
}

func UserDealsKey(userID string) string {
	return fmt.Sprintf(UserDealsKeyPrefix, userID)
}

// RevokedTokenKey marks a signed-out session token by its jti.
func RevokedTokenKey(jti string) string {
	return fmt.Sprintf(RevokedTokenPrefix, jti)
}
