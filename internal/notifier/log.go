package notifier

import (
	"context"

	"go.uber.org/zap"

	"resume-screener/internal/logger"
)

// LogSender 只记录邮件元信息，适合开发环境。
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender 创建日志投递通道。
func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{logger: logger.OrNop(log).Named("mail")}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.Info("mail",
		zap.String("kind", msg.Kind),
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.HTMLBody)),
	)
	return ctx.Err()
}
