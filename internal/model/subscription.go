package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// 通知类型。
const (
	KindSummary       = "summary"
	KindHighScore     = "high_score"
	KindRejectionCopy = "rejection_copy"
)

// ChannelEmail 是目前唯一可投递的订阅渠道。
const ChannelEmail = "email"

// DeliverableChannel 判断渠道是否有对应的投递实现，空值视为 email。
func DeliverableChannel(ch string) bool {
	switch strings.ToLower(strings.TrimSpace(ch)) {
	case ChannelEmail, "":
		return true
	}
	return false
}

// Subscription 表示 HR 对某岗位通知的订阅，JobID 为空表示订阅全部岗位。
// Kinds 以键值对存储订阅的通知类型，为空表示全部类型。
type Subscription struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	JobID     *uint             `gorm:"index" json:"job_id,omitempty"`
	Email     string            `json:"email"`
	Channel   string            `json:"channel"`
	Kinds     datatypes.JSONMap `json:"kinds"`
	CreatedAt time.Time         `json:"created_at"`
}

// Wants 判断订阅是否包含指定通知类型。
func (s Subscription) Wants(kind string) bool {
	if len(s.Kinds) == 0 {
		return true
	}
	v, ok := s.Kinds[kind]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return !ok || b
}
