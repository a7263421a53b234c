package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"gorm.io/datatypes"

	"resume-screener/internal/model"
)

// ErrInvalidRequest 表示订阅请求未通过校验。
var ErrInvalidRequest = errors.New("invalid subscription request")

// ValidationError 指明未通过校验的字段。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidRequest }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Store 定义持久化接口。
type Store interface {
	GetJob(ctx context.Context, id uint) (*model.JobProfile, error)
	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
}

// Config 控制可用渠道。
type Config struct {
	AllowedChannels []string `mapstructure:"allowed_channels" yaml:"allowed_channels" json:"allowed_channels"`
}

// Request 表示 HR 的订阅请求。JobID 为空表示订阅全部岗位，Kinds 为空表示全部通知类型。
type Request struct {
	Email   string   `json:"email"`
	Channel string   `json:"channel"`
	JobID   *uint    `json:"job_id,omitempty"`
	Kinds   []string `json:"kinds"`
}

var knownKinds = map[string]struct{}{
	model.KindSummary:       {},
	model.KindHighScore:     {},
	model.KindRejectionCopy: {},
}

// Service 负责验证与写入订阅。
type Service struct {
	store    Store
	channels map[string]struct{}
}

// NewService 创建订阅服务。配置中没有投递实现的渠道被忽略，未配置可用渠道时只允许 email。
func NewService(store Store, cfg Config) *Service {
	channels := make(map[string]struct{})
	for _, ch := range cfg.AllowedChannels {
		trimmed := strings.ToLower(strings.TrimSpace(ch))
		if trimmed != "" && model.DeliverableChannel(trimmed) {
			channels[trimmed] = struct{}{}
		}
	}
	if len(channels) == 0 {
		channels[model.ChannelEmail] = struct{}{}
	}
	return &Service{store: store, channels: channels}
}

// Create 校验请求并写入数据库。岗位不存在时返回的错误可用 errors.Is 匹配 sql.ErrNoRows。
func (s *Service) Create(ctx context.Context, req Request) (model.Subscription, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return model.Subscription{}, invalid("email", "required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return model.Subscription{}, invalid("email", "%v", err)
	}

	channel := strings.ToLower(strings.TrimSpace(req.Channel))
	if channel == "" {
		channel = model.ChannelEmail
	}
	if _, ok := s.channels[channel]; !ok {
		return model.Subscription{}, invalid("channel", "unsupported channel %s", channel)
	}

	kinds := datatypes.JSONMap{}
	for _, k := range req.Kinds {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		if _, ok := knownKinds[key]; !ok {
			return model.Subscription{}, invalid("kinds", "unknown kind %s", k)
		}
		kinds[key] = true
	}

	if req.JobID != nil {
		if _, err := s.store.GetJob(ctx, *req.JobID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return model.Subscription{}, fmt.Errorf("job %d: %w", *req.JobID, err)
			}
			return model.Subscription{}, err
		}
	}

	sub := model.Subscription{
		JobID:   req.JobID,
		Email:   addr.Address,
		Channel: channel,
		Kinds:   kinds,
	}
	if err := s.store.CreateSubscription(ctx, &sub); err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

// List 返回全部订阅。
func (s *Service) List(ctx context.Context) ([]model.Subscription, error) {
	return s.store.ListSubscriptions(ctx)
}
