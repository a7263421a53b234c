// Package pipeline 根据简历分数与测评结果推进应聘者在固定流程中的阶段。
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"resume-screener/internal/logger"
	"resume-screener/internal/model"
	"resume-screener/internal/storage"
)

// Repository 抽象流程推进所需的读写。未找到时返回 sql.ErrNoRows；
// UpdateStage 版本不一致时返回 storage.ErrConcurrencyConflict。
type Repository interface {
	GetApplicant(ctx context.Context, id uint) (*model.Applicant, error)
	GetJob(ctx context.Context, id uint) (*model.JobProfile, error)
	LatestAssessment(ctx context.Context, applicantID uint, kind model.SurveyKind) (*model.AssessmentResult, error)
	RecordAssessment(ctx context.Context, result *model.AssessmentResult) error
	UpdateStage(ctx context.Context, applicantID uint, version int, stage model.PipelineStage) error
}

// Notifier 发送流程相关通知，发送失败由实现自行记录，不向上返回。
type Notifier interface {
	NotifyRejection(ctx context.Context, applicant model.Applicant, job model.JobProfile)
	NotifyAssessmentFailure(ctx context.Context, applicant model.Applicant, job model.JobProfile, kind model.SurveyKind)
	NotifySurveyInvitation(ctx context.Context, applicant model.Applicant, job model.JobProfile, kind model.SurveyKind, link string, deadline time.Time)
	// SendAssessmentLink 为 HR 手动发送的测评链接，需要把投递结果返回给调用方。
	SendAssessmentLink(ctx context.Context, applicant model.Applicant, job model.JobProfile, link string) error
}

// Config 描述流程阈值。
type Config struct {
	MaxVideoBytes        int64   `mapstructure:"max_video_bytes" yaml:"max_video_bytes"`
	LogicalMeanThreshold float64 `mapstructure:"logical_mean_threshold" yaml:"logical_mean_threshold"`
	GlobalStageFallback  bool    `mapstructure:"global_stage_fallback" yaml:"global_stage_fallback"`

	// InvitationValidity 测评邀请的有效期，截止时间写入邀请邮件。
	InvitationValidity time.Duration `mapstructure:"invitation_validity" yaml:"invitation_validity"`
}

const (
	defaultMaxVideoBytes        = 20 << 20
	defaultLogicalMeanThreshold = 70.0
	defaultInvitationValidity   = 15 * 24 * time.Hour
)

// Action 描述一次处理的结果。
type Action string

const (
	ActionAdvanced Action = "advanced"
	ActionDropped  Action = "dropped"
	ActionStalled  Action = "stalled"
	ActionSkipped  Action = "skipped"
	ActionDeferred Action = "deferred"
)

// Outcome 为单个应聘者的处理结果。
type Outcome struct {
	ApplicantID uint        `json:"applicant_id"`
	From        model.Stage `json:"from"`
	To          model.Stage `json:"to,omitempty"`
	Action      Action      `json:"action"`
	Reason      string      `json:"reason,omitempty"`
}

// Completion 表示一次测评提交。
type Completion struct {
	ApplicantID uint             `json:"applicant_id"`
	Kind        model.SurveyKind `json:"kind"`
	Percentage  float64          `json:"percentage"`
	RawTotal    int64            `json:"raw_total"`
}

// BatchReport 汇总一批提交的处理情况。
type BatchReport struct {
	Outcomes []Outcome `json:"outcomes"`
	Failed   int       `json:"failed"`
}

// Count 统计指定动作的数量。
func (r BatchReport) Count(action Action) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == action {
			n++
		}
	}
	return n
}

// Engine 是唯一的阶段状态机实现。
type Engine struct {
	repo     Repository
	resolver StageResolver
	notifier Notifier
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
}

// NewEngine 创建 Engine，resolver 为 nil 时按 cfg.GlobalStageFallback 从 repo 构建目录查询。
func NewEngine(repo Repository, resolver StageResolver, notifier Notifier, cfg Config, log *zap.Logger) *Engine {
	if cfg.MaxVideoBytes <= 0 {
		cfg.MaxVideoBytes = defaultMaxVideoBytes
	}
	if cfg.LogicalMeanThreshold <= 0 {
		cfg.LogicalMeanThreshold = defaultLogicalMeanThreshold
	}
	if cfg.InvitationValidity <= 0 {
		cfg.InvitationValidity = defaultInvitationValidity
	}
	if resolver == nil {
		if lookup, ok := repo.(StageLookup); ok {
			resolver = CatalogResolver{Lookup: lookup, GlobalFallback: cfg.GlobalStageFallback}
		}
	}
	return &Engine{
		repo:     repo,
		resolver: resolver,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.OrNop(log).Named("pipeline"),
	}
}

// HandleVideoSubmission 处理视频测评提交。附件总大小超过上限时同样进入分析测评，仅记录告警。
func (e *Engine) HandleVideoSubmission(ctx context.Context, applicantID uint, fileSizes []int64) (Outcome, error) {
	app, job, err := e.load(ctx, applicantID)
	if err != nil {
		return Outcome{}, err
	}

	var total int64
	for _, size := range fileSizes {
		if size < 0 {
			return Outcome{}, fmt.Errorf("video submission: negative file size %d", size)
		}
		total += size
	}
	if err := e.repo.RecordAssessment(ctx, &model.AssessmentResult{
		ApplicantID: app.ID,
		Kind:        model.SurveyVideo,
		RawTotal:    total,
		Completed:   true,
	}); err != nil {
		return Outcome{}, fmt.Errorf("record video submission: %w", err)
	}

	from := app.CurrentStage()
	if from != model.StageNew && from != model.StageVideo {
		return skipped(app, "stage mismatch"), nil
	}

	reason := ""
	if total > e.cfg.MaxVideoBytes {
		reason = "oversize"
		e.logger.Warn("video submission exceeds size limit",
			append(logger.Applicant(app.ID, app.JobID),
				zap.Int64("total_bytes", total),
				zap.Int64("limit_bytes", e.cfg.MaxVideoBytes))...)
	}
	return e.move(ctx, app, job, model.StageAnalytical, reason)
}

// HandleSurveyCompleted 记录测评结果，当前阶段与测评类型对应时尝试推进。
func (e *Engine) HandleSurveyCompleted(ctx context.Context, c Completion) (Outcome, error) {
	expected, ok := surveyStage[c.Kind]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: unsupported kind %q", ErrInvalidCompletion, c.Kind)
	}
	if c.Percentage < 0 || c.Percentage > 100 {
		return Outcome{}, fmt.Errorf("%w: percentage %.2f out of range", ErrInvalidCompletion, c.Percentage)
	}

	app, job, err := e.load(ctx, c.ApplicantID)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.repo.RecordAssessment(ctx, &model.AssessmentResult{
		ApplicantID: app.ID,
		Kind:        c.Kind,
		Percentage:  c.Percentage,
		RawTotal:    c.RawTotal,
		Completed:   true,
	}); err != nil {
		return Outcome{}, fmt.Errorf("record %s result: %w", c.Kind, err)
	}

	if app.CurrentStage() != expected {
		return skipped(app, "stage mismatch"), nil
	}

	switch c.Kind {
	case model.SurveyAnalytical:
		return e.analytical(ctx, app, job, c.Percentage)
	case model.SurveyLogical:
		return e.logical(ctx, app, job)
	default:
		return e.personality(ctx, app, job, c.RawTotal)
	}
}

var surveyStage = map[model.SurveyKind]model.Stage{
	model.SurveyAnalytical:  model.StageAnalytical,
	model.SurveyLogical:     model.StageLogical,
	model.SurveyPersonality: model.StagePersonality,
}

// stageSurvey 为进入阶段时需要邀请的测评。
var stageSurvey = map[model.Stage]model.SurveyKind{
	model.StageAnalytical:  model.SurveyAnalytical,
	model.StageLogical:     model.SurveyLogical,
	model.StagePersonality: model.SurveyPersonality,
}

func (e *Engine) analytical(ctx context.Context, app *model.Applicant, job *model.JobProfile, pct float64) (Outcome, error) {
	if job.CombinedCriteria && pct < job.AnalyticalPassPct {
		return stalled(app, fmt.Sprintf("analytical %.2f below %.2f", pct, job.AnalyticalPassPct)), nil
	}
	return e.move(ctx, app, job, model.StageLogical, "")
}

func (e *Engine) logical(ctx context.Context, app *model.Applicant, job *model.JobProfile) (Outcome, error) {
	analytical, err := e.latest(ctx, app.ID, model.SurveyAnalytical)
	if err != nil {
		return Outcome{}, err
	}
	logical, err := e.latest(ctx, app.ID, model.SurveyLogical)
	if err != nil {
		return Outcome{}, err
	}

	var passed bool
	var reason string
	if job.CombinedCriteria {
		passed = analytical.Percentage >= job.AnalyticalPassPct && logical.Percentage >= job.LogicalPassPct
		reason = fmt.Sprintf("analytical %.2f/%.2f, logical %.2f/%.2f",
			analytical.Percentage, job.AnalyticalPassPct, logical.Percentage, job.LogicalPassPct)
	} else {
		mean := (analytical.Percentage + logical.Percentage) / 2
		passed = mean > e.cfg.LogicalMeanThreshold
		reason = fmt.Sprintf("mean %.2f not above %.2f", mean, e.cfg.LogicalMeanThreshold)
	}
	if passed {
		return e.move(ctx, app, job, model.StagePersonality, "")
	}

	e.notifier.NotifyAssessmentFailure(ctx, *app, *job, model.SurveyLogical)
	if job.DropOnLogicalFailure {
		return e.move(ctx, app, job, model.StageDropped, reason)
	}
	return stalled(app, reason), nil
}

func (e *Engine) personality(ctx context.Context, app *model.Applicant, job *model.JobProfile, total int64) (Outcome, error) {
	if total <= 0 {
		e.logger.Info("personality survey without answers", logger.Applicant(app.ID, app.JobID)...)
		return stalled(app, "personality total is zero"), nil
	}
	profile, err := Decompose(total)
	if err != nil {
		return Outcome{}, err
	}
	if strings.EqualFold(profile.Primary, job.IdealPrimary) &&
		strings.EqualFold(profile.Secondary, job.IdealSecondary) {
		return e.move(ctx, app, job, model.StageIdealProfile, "")
	}
	reason := fmt.Sprintf("profile %s/%s does not match %s/%s",
		profile.Primary, profile.Secondary, job.IdealPrimary, job.IdealSecondary)
	e.logger.Info("personality profile mismatch",
		append(logger.Applicant(app.ID, app.JobID), zap.String("reason", reason))...)
	return stalled(app, reason), nil
}

// ApplyScoreGate 按简历分数推进：达到通过分进入 QualifiedResume，否则 Dropped 并发送拒信。
// 未评分、已在终态或岗位流程不含闸门时不做处理。combined 模式下通过闸门不改变阶段。
func (e *Engine) ApplyScoreGate(ctx context.Context, applicantID uint) (Outcome, error) {
	app, job, err := e.load(ctx, applicantID)
	if err != nil {
		return Outcome{}, err
	}
	if app.Score <= 0 {
		return skipped(app, "not scored"), nil
	}
	if app.CurrentStage().Terminal() {
		return skipped(app, "terminal stage"), nil
	}

	mode := job.EffectiveWorkflow()
	if mode == model.WorkflowSurvey {
		return skipped(app, "workflow has no score gate"), nil
	}

	pass := job.EffectivePassScore()
	if app.Score >= pass {
		if mode == model.WorkflowCombined {
			return skipped(app, "passed gate, continue surveys"), nil
		}
		return e.move(ctx, app, job, model.StageQualified, "")
	}

	out, err := e.move(ctx, app, job, model.StageDropped, fmt.Sprintf("score %.2f below %.2f", app.Score, pass))
	if err != nil {
		return out, err
	}
	if out.Action == ActionDropped {
		e.notifier.NotifyRejection(ctx, *app, *job)
	}
	return out, nil
}

// ResendInvitation 重新发送当前阶段的测评邀请，截止时间从现在起算。
func (e *Engine) ResendInvitation(ctx context.Context, applicantID uint) (model.SurveyKind, error) {
	app, job, err := e.load(ctx, applicantID)
	if err != nil {
		return "", err
	}
	kind, ok := stageSurvey[app.CurrentStage()]
	if !ok {
		return "", fmt.Errorf("%w: stage %s has no survey", ErrNoInvitation, app.CurrentStage())
	}
	if job.SurveyURL(kind) == "" {
		return "", fmt.Errorf("%w: job %d has no %s survey link", ErrNoInvitation, job.ID, kind)
	}
	e.invite(ctx, app, job, app.CurrentStage())
	return kind, nil
}

// SendAssessmentLink 向应聘者发送 HR 指定的测评链接，只接受 http(s) 绝对地址。
func (e *Engine) SendAssessmentLink(ctx context.Context, applicantID uint, link string) error {
	link = strings.TrimSpace(link)
	u, err := url.ParseRequestURI(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidLink, link)
	}
	app, job, err := e.load(ctx, applicantID)
	if err != nil {
		return err
	}
	if err := e.notifier.SendAssessmentLink(ctx, *app, *job, link); err != nil {
		return fmt.Errorf("send assessment link: %w", err)
	}
	e.logger.Info("assessment link sent", logger.Applicant(app.ID, app.JobID)...)
	return nil
}

// ProcessCompletions 逐个处理测评提交，单个失败只记录日志，不影响其余提交。
func (e *Engine) ProcessCompletions(ctx context.Context, completions []Completion) BatchReport {
	report := BatchReport{Outcomes: make([]Outcome, 0, len(completions))}
	for _, c := range completions {
		if ctx.Err() != nil {
			e.logger.Warn("batch interrupted", zap.Error(ctx.Err()), zap.Int("remaining", len(completions)-len(report.Outcomes)-report.Failed))
			break
		}
		out, err := e.HandleSurveyCompleted(ctx, c)
		if err != nil {
			report.Failed++
			e.logger.Error("process survey completion",
				zap.Uint("applicant_id", c.ApplicantID),
				zap.String("kind", string(c.Kind)),
				zap.Error(err))
			continue
		}
		report.Outcomes = append(report.Outcomes, out)
	}
	return report
}

func (e *Engine) load(ctx context.Context, applicantID uint) (*model.Applicant, *model.JobProfile, error) {
	app, err := e.repo.GetApplicant(ctx, applicantID)
	if err != nil {
		return nil, nil, fmt.Errorf("get applicant %d: %w", applicantID, err)
	}
	job, err := e.repo.GetJob(ctx, app.JobID)
	if err != nil {
		return nil, nil, fmt.Errorf("get job %d: %w", app.JobID, err)
	}
	return app, job, nil
}

func (e *Engine) latest(ctx context.Context, applicantID uint, kind model.SurveyKind) (*model.AssessmentResult, error) {
	res, err := e.repo.LatestAssessment(ctx, applicantID, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no completed %s result for applicant %d", ErrInvalidCompletion, kind, applicantID)
	}
	if err != nil {
		return nil, fmt.Errorf("latest %s result: %w", kind, err)
	}
	return res, nil
}

// move 解析目标阶段并以乐观锁写入。阶段缺失视为停滞，版本冲突留待下次处理。
func (e *Engine) move(ctx context.Context, app *model.Applicant, job *model.JobProfile, to model.Stage, reason string) (Outcome, error) {
	from := app.CurrentStage()
	fields := append(logger.Applicant(app.ID, app.JobID), zap.String("from", string(from)), zap.String("to", string(to)))

	if e.resolver == nil {
		return Outcome{}, errors.New("pipeline: no stage resolver configured")
	}
	stage, err := e.resolver.Resolve(ctx, job.ID, to)
	if errors.Is(err, ErrStageNotFound) {
		e.logger.Warn("stage missing from catalog, applicant stays", append(fields, zap.Error(err))...)
		return Outcome{ApplicantID: app.ID, From: from, To: to, Action: ActionStalled, Reason: "stage not found"}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	err = e.repo.UpdateStage(ctx, app.ID, app.Version, stage)
	if errors.Is(err, storage.ErrConcurrencyConflict) {
		e.logger.Warn("stage update conflicted, deferring", fields...)
		return Outcome{ApplicantID: app.ID, From: from, To: to, Action: ActionDeferred, Reason: "concurrency conflict"}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("update stage: %w", err)
	}
	app.Stage = to
	app.StageID = &stage.ID
	app.Version++

	action := ActionAdvanced
	if to == model.StageDropped {
		action = ActionDropped
	}
	e.logger.Info("stage changed", append(fields, zap.String("reason", reason))...)
	e.invite(ctx, app, job, to)
	return Outcome{ApplicantID: app.ID, From: from, To: to, Action: action, Reason: reason}, nil
}

// invite 在进入测评阶段时发送邀请，岗位未配置问卷链接时跳过。
func (e *Engine) invite(ctx context.Context, app *model.Applicant, job *model.JobProfile, stage model.Stage) {
	kind, ok := stageSurvey[stage]
	if !ok {
		return
	}
	link := job.SurveyURL(kind)
	if link == "" {
		e.logger.Debug("no survey link configured, invitation skipped",
			append(logger.Applicant(app.ID, app.JobID), zap.String("kind", string(kind)))...)
		return
	}
	e.notifier.NotifySurveyInvitation(ctx, *app, *job, kind, link, e.now().Add(e.cfg.InvitationValidity))
}

func skipped(app *model.Applicant, reason string) Outcome {
	return Outcome{ApplicantID: app.ID, From: app.CurrentStage(), Action: ActionSkipped, Reason: reason}
}

func stalled(app *model.Applicant, reason string) Outcome {
	return Outcome{ApplicantID: app.ID, From: app.CurrentStage(), Action: ActionStalled, Reason: reason}
}
