package notifier

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"resume-screener/internal/logger"
	"resume-screener/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// 邮件类型，同时作为模板名。
const (
	kindRejection         = "rejection"
	kindAssessmentFailure = "assessment_failure"
	kindHighScore         = "high_score"
	kindSummary           = "summary"
	kindSurveyInvitation  = "survey_invitation"
	kindAssessmentLink    = "assessment_link"
)

var (
	// ErrNoRecipient 应聘者没有邮箱。
	ErrNoRecipient = errors.New("applicant has no email")
	// ErrDeliveryFailed 邮件渲染或投递失败，详情见日志。
	ErrDeliveryFailed = errors.New("mail delivery failed")
)

// DispatcherConfig 发件人与主题前缀。
type DispatcherConfig struct {
	From          string `mapstructure:"from" yaml:"from"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

// Dispatcher 用模板组装通知并通过 Sender 投递。投递失败只记录日志，不向调用方返回。
type Dispatcher struct {
	sender Sender
	subs   SubscriptionStore
	cfg    DispatcherConfig
	tmpl   *template.Template
	logger *zap.Logger
}

// NewDispatcher 解析内置模板并创建 Dispatcher。
func NewDispatcher(sender Sender, subs SubscriptionStore, cfg DispatcherConfig, log *zap.Logger) (*Dispatcher, error) {
	if sender == nil {
		return nil, fmt.Errorf("new dispatcher: sender is required")
	}
	if cfg.From == "" {
		cfg.From = "no-reply@resume-screener.local"
	}
	tmpl, err := template.New("mail").Funcs(template.FuncMap{
		"inc":       func(i int) int { return i + 1 },
		"stageName": func(s model.Stage) string { return model.StageNames[s] },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse mail templates: %w", err)
	}
	return &Dispatcher{
		sender: sender,
		subs:   subs,
		cfg:    cfg,
		tmpl:   tmpl,
		logger: logger.OrNop(log).Named("notifier"),
	}, nil
}

// NotifyRejection 向应聘者发送拒信，并抄送订阅了 rejection_copy 的 HR。
func (d *Dispatcher) NotifyRejection(ctx context.Context, app model.Applicant, job model.JobProfile) {
	data := map[string]any{"Applicant": app, "Job": job}
	subject := fmt.Sprintf("Your application for %s", job.Title)
	d.toApplicant(ctx, kindRejection, app, job, subject, data)

	copies, err := recipients(ctx, d.subs, job.ID, model.KindRejectionCopy)
	if err != nil {
		d.logger.Error("resolve rejection copy recipients", append(logger.Applicant(app.ID, job.ID), zap.Error(err))...)
		return
	}
	if len(copies) > 0 {
		d.deliver(ctx, kindRejection, copies, "[copy] "+subject, data, logger.Applicant(app.ID, job.ID))
	}
}

// NotifyAssessmentFailure 通知应聘者测评未通过。
func (d *Dispatcher) NotifyAssessmentFailure(ctx context.Context, app model.Applicant, job model.JobProfile, kind model.SurveyKind) {
	data := map[string]any{"Applicant": app, "Job": job, "Kind": string(kind)}
	subject := fmt.Sprintf("Your %s assessment for %s", kind, job.Title)
	d.toApplicant(ctx, kindAssessmentFailure, app, job, subject, data)
}

// NotifySurveyInvitation 邀请应聘者参加测评，邮件中带截止时间。
func (d *Dispatcher) NotifySurveyInvitation(ctx context.Context, app model.Applicant, job model.JobProfile, kind model.SurveyKind, link string, deadline time.Time) {
	data := map[string]any{
		"Applicant": app,
		"Job":       job,
		"Kind":      string(kind),
		"Link":      link,
		"Deadline":  deadline,
	}
	subject := fmt.Sprintf("Invitation: %s assessment for %s", kind, job.Title)
	d.toApplicant(ctx, kindSurveyInvitation, app, job, subject, data)
}

// SendAssessmentLink 发送 HR 手动指定的测评链接，无邮箱或投递失败时返回错误。
func (d *Dispatcher) SendAssessmentLink(ctx context.Context, app model.Applicant, job model.JobProfile, link string) error {
	data := map[string]any{"Applicant": app, "Job": job, "Link": link}
	subject := fmt.Sprintf("Online assessment for %s", job.Title)
	switch d.toApplicant(ctx, kindAssessmentLink, app, job, subject, data) {
	case deliveredOK:
		return nil
	case deliveredNoEmail:
		return fmt.Errorf("applicant %d: %w", app.ID, ErrNoRecipient)
	default:
		return fmt.Errorf("applicant %d: %w", app.ID, ErrDeliveryFailed)
	}
}

// NotifyHighScore 向订阅者推送高分应聘者。
func (d *Dispatcher) NotifyHighScore(ctx context.Context, app model.Applicant, job model.JobProfile) {
	fields := logger.Applicant(app.ID, job.ID)
	to, err := recipients(ctx, d.subs, job.ID, model.KindHighScore)
	if err != nil {
		d.logger.Error("resolve high score recipients", append(fields, zap.Error(err))...)
		return
	}
	if len(to) == 0 {
		return
	}
	subject := fmt.Sprintf("High scoring applicant for %s: %.1f", job.Title, app.Score)
	d.deliver(ctx, kindHighScore, to, subject, map[string]any{"Applicant": app, "Job": job}, fields)
}

// SendSummary 向订阅者发送周期汇总，返回成功投递的收件人数量。
// 只有读取订阅失败时返回错误。
func (d *Dispatcher) SendSummary(ctx context.Context, job model.JobProfile, candidates []model.Applicant, since time.Time) (int, error) {
	to, err := recipients(ctx, d.subs, job.ID, model.KindSummary)
	if err != nil {
		return 0, err
	}
	if len(to) == 0 || len(candidates) == 0 {
		return 0, nil
	}
	data := map[string]any{
		"Job":        job,
		"Candidates": candidates,
		"Threshold":  job.EffectiveHighScoreThreshold(),
		"Since":      since,
	}
	subject := fmt.Sprintf("%s summary for %s: %d candidate(s)", capitalize(string(job.SummaryFrequency)), job.Title, len(candidates))
	if d.deliver(ctx, kindSummary, to, subject, data, []zap.Field{zap.Uint("job_id", job.ID)}) {
		return len(to), nil
	}
	return 0, nil
}

type delivery int

const (
	deliveredOK delivery = iota
	deliveredNoEmail
	deliveredFailed
)

func (d *Dispatcher) toApplicant(ctx context.Context, kind string, app model.Applicant, job model.JobProfile, subject string, data any) delivery {
	fields := logger.Applicant(app.ID, job.ID)
	email := strings.TrimSpace(app.Email)
	if email == "" {
		d.logger.Warn("applicant has no email, skipping notification", append(fields, zap.String("kind", kind))...)
		return deliveredNoEmail
	}
	if !d.deliver(ctx, kind, []string{email}, subject, data, fields) {
		return deliveredFailed
	}
	return deliveredOK
}

func (d *Dispatcher) deliver(ctx context.Context, kind string, to []string, subject string, data any, fields []zap.Field) bool {
	fields = append(fields, zap.String("kind", kind), zap.Strings("to", to))

	var body bytes.Buffer
	if err := d.tmpl.ExecuteTemplate(&body, kind, data); err != nil {
		d.logger.Error("render mail", append(fields, zap.Error(err))...)
		return false
	}
	if d.cfg.SubjectPrefix != "" {
		subject = d.cfg.SubjectPrefix + " " + subject
	}
	msg := Message{
		ID:       uuid.NewString(),
		Kind:     kind,
		From:     d.cfg.From,
		To:       to,
		Subject:  subject,
		HTMLBody: body.String(),
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		d.logger.Error("send mail", append(fields, zap.Error(err))...)
		return false
	}
	d.logger.Debug("mail sent", fields...)
	return true
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
