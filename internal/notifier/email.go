// Package notifier 负责组装并投递筛选流程中的邮件通知。
package notifier

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
)

// EmailConfig SMTP 配置。
type EmailConfig struct {
	Host     string `mapstructure:"host" yaml:"host" json:"host"`
	Port     int    `mapstructure:"port" yaml:"port" json:"port"`
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"password"`
}

// Message 表示一封 HTML 邮件。
type Message struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	HTMLBody string   `json:"html_body"`
}

// Sender 抽象投递通道，便于测试替换。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPClient 通过 SMTP 直接发送。
type SMTPClient struct {
	addr string
	auth smtp.Auth
}

func NewSMTPClient(cfg EmailConfig) *SMTPClient {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, port)
	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPClient{addr: addr, auth: auth}
}

func (c *SMTPClient) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.To) == 0 {
		return fmt.Errorf("smtp send: no recipients")
	}
	if err := smtp.SendMail(c.addr, c.auth, msg.From, msg.To, []byte(buildEmailData(msg))); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func buildEmailData(msg Message) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s\r\n", msg.From))
	b.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ",")))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject)))
	if msg.ID != "" {
		b.WriteString(fmt.Sprintf("Message-ID: <%s@resume-screener>\r\n", msg.ID))
	}
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(msg.HTMLBody)
	return b.String()
}
