package notifier

import (
	"context"
	"fmt"
	"strings"

	"resume-screener/internal/model"
)

// SubscriptionStore 定义订阅读取接口，返回岗位订阅与全局订阅。
type SubscriptionStore interface {
	ListJobSubscriptions(ctx context.Context, jobID uint) ([]model.Subscription, error)
}

// recipients 返回订阅了指定通知类型的邮箱，去重并保持订阅顺序。
// 非 email 渠道的订阅被忽略。
func recipients(ctx context.Context, store SubscriptionStore, jobID uint, kind string) ([]string, error) {
	if store == nil {
		return nil, nil
	}
	subs, err := store.ListJobSubscriptions(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	seen := make(map[string]struct{}, len(subs))
	out := make([]string, 0, len(subs))
	for _, sub := range subs {
		if !model.DeliverableChannel(sub.Channel) {
			continue
		}
		if !sub.Wants(kind) {
			continue
		}
		email := strings.ToLower(strings.TrimSpace(sub.Email))
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out, nil
}
