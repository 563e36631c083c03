package models

import "time"

// UsageAction — вид команды, записанной в журнал использования.
type UsageAction string

const (
	ActionVerify    UsageAction = "verify"
	ActionRegrant   UsageAction = "regrant"
	ActionSetPolicy UsageAction = "set_policy"
	ActionSetTier   UsageAction = "set_tier"
)

// UsageEvent — запись журнала вызовов команд. Только добавляется.
type UsageEvent struct {
	ID          int64       `json:"id"`
	CommunityID string      `json:"community_id"`
	MemberID    string      `json:"member_id"`
	Action      UsageAction `json:"action"`
	CreatedAt   time.Time   `json:"created_at"`
}
