// Package screening 串联抽取、评分、分类器与阶段闸门，提供单个评分与定时批处理。
package screening

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"resume-screener/internal/classifier"
	"resume-screener/internal/extractor"
	"resume-screener/internal/logger"
	"resume-screener/internal/model"
	"resume-screener/internal/pipeline"
	"resume-screener/internal/scoring"
	"resume-screener/internal/storage"
)

// Repository 抽象评分流程所需的存储操作。
type Repository interface {
	classifier.CorpusSource
	GetJob(ctx context.Context, id uint) (*model.JobProfile, error)
	GetApplicant(ctx context.Context, id uint) (*model.Applicant, error)
	ListUnscoredApplicants(ctx context.Context, jobID uint, limit int) ([]model.Applicant, error)
	ListApplicants(ctx context.Context, q storage.ApplicantQuery) ([]model.Applicant, error)
	SaveResumeText(ctx context.Context, applicantID uint, text string) error
	SaveScore(ctx context.Context, applicantID uint, version int, u storage.ScoreUpdate) error
	MarkScreenFailed(ctx context.Context, applicantID uint, at time.Time, reason string) error
	CountScoredSince(ctx context.Context, jobID uint, since *time.Time) (int64, error)
	MarkTrained(ctx context.Context, jobID uint, at time.Time) error
	MarkSummarySent(ctx context.Context, jobID uint, at time.Time) error
}

// ClassifierStore 读取与替换分类器。
type ClassifierStore interface {
	ForJob(ctx context.Context, jobID uint) (*classifier.Model, error)
	Put(ctx context.Context, scope string, m *classifier.Model) error
}

// Gate 为评分后的阶段闸门。
type Gate interface {
	ApplyScoreGate(ctx context.Context, applicantID uint) (pipeline.Outcome, error)
}

// Notifier 发送高分提醒与周期汇总。
type Notifier interface {
	NotifyHighScore(ctx context.Context, app model.Applicant, job model.JobProfile)
	SendSummary(ctx context.Context, job model.JobProfile, candidates []model.Applicant, since time.Time) (int, error)
}

// Deps 组装 Service 所需的组件。
type Deps struct {
	Extractor   extractor.Extractor
	Scorer      *scoring.Scorer
	Classifiers ClassifierStore
	Trainer     *classifier.Trainer
	Gate        Gate
	Notifier    Notifier
}

// Config 批处理配置。
type Config struct {
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
}

// Options 单次评分选项。
type Options struct {
	// Force 为 true 时忽略已有分数重新评分。
	Force bool
	// RequireClassifier 为 true 时分类器不可用直接报错。
	RequireClassifier bool
	auto              bool
}

// Result 单次评分结果。
type Result struct {
	Applicant model.Applicant   `json:"applicant"`
	Breakdown scoring.Breakdown `json:"breakdown"`
	Cached    bool              `json:"cached"`
	Deferred  bool              `json:"deferred"`
	Gate      *pipeline.Outcome `json:"gate,omitempty"`
}

// TrainResult 一次训练的结果。
type TrainResult struct {
	Scope      string    `json:"scope"`
	Version    string    `json:"version"`
	CorpusSize int       `json:"corpus_size"`
	TrainedAt  time.Time `json:"trained_at"`
}

// Service 实现评分与批处理。
type Service struct {
	repo   Repository
	deps   Deps
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New 创建 Service。
func New(repo Repository, deps Deps, cfg Config, log *zap.Logger) (*Service, error) {
	switch {
	case repo == nil:
		return nil, errors.New("screening: repository is required")
	case deps.Extractor == nil, deps.Scorer == nil, deps.Classifiers == nil, deps.Trainer == nil:
		return nil, errors.New("screening: extractor, scorer, classifiers and trainer are required")
	case deps.Gate == nil, deps.Notifier == nil:
		return nil, errors.New("screening: gate and notifier are required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Service{
		repo:   repo,
		deps:   deps,
		cfg:    cfg,
		logger: logger.OrNop(log).Named("screening"),
		now:    time.Now,
	}, nil
}

// ScoreApplicant 为用户主动触发的评分。已有分数且未指定 Force 时直接返回已存储结果。
// 抽取失败、配置不合法、必需的分类器不可用时返回错误；版本冲突视为延后处理，不返回错误。
func (s *Service) ScoreApplicant(ctx context.Context, applicantID uint, opts Options) (Result, error) {
	app, err := s.repo.GetApplicant(ctx, applicantID)
	if err != nil {
		return Result{}, fmt.Errorf("get applicant %d: %w", applicantID, err)
	}
	job, err := s.repo.GetJob(ctx, app.JobID)
	if err != nil {
		return Result{}, fmt.Errorf("get job %d: %w", app.JobID, err)
	}
	if app.Score > 0 && !opts.Force {
		b, err := scoring.FromJSONMap(app.Breakdown)
		if err != nil {
			return Result{}, err
		}
		return Result{Applicant: *app, Breakdown: b, Cached: true}, nil
	}
	return s.score(ctx, *app, *job, opts)
}

func (s *Service) score(ctx context.Context, app model.Applicant, job model.JobProfile, opts Options) (Result, error) {
	fields := logger.Applicant(app.ID, job.ID)

	text, err := s.resumeText(ctx, &app)
	if err != nil {
		return Result{}, err
	}

	policy, err := s.deps.Scorer.Policy(job.ScoringPolicy)
	if err != nil {
		return Result{}, err
	}
	var predictor scoring.Predictor
	clf, err := s.deps.Classifiers.ForJob(ctx, job.ID)
	switch {
	case err == nil:
		predictor = clf
	case policy.ClassifierRequired || opts.RequireClassifier:
		return Result{}, err
	case !errors.Is(err, classifier.ErrClassifierUnavailable):
		s.logger.Warn("load classifier, scoring without it", append(fields, zap.Error(err))...)
	}

	b, err := s.deps.Scorer.Score(ctx, text, job, predictor)
	if err != nil {
		return Result{}, err
	}
	bm, err := b.JSONMap()
	if err != nil {
		return Result{}, err
	}

	scoredAt := s.now().UTC()
	err = s.repo.SaveScore(ctx, app.ID, app.Version, storage.ScoreUpdate{
		Score:        b.Total,
		Range:        model.RangeFor(b.Total),
		Breakdown:    bm,
		ScoredAt:     scoredAt,
		AutoScreened: opts.auto,
	})
	if errors.Is(err, storage.ErrConcurrencyConflict) {
		s.logger.Warn("score write conflicted, deferring", fields...)
		return Result{Applicant: app, Breakdown: b, Deferred: true}, nil
	}
	if err != nil {
		return Result{}, err
	}

	app.Score = b.Total
	app.ScoreRange = model.RangeFor(b.Total)
	app.Breakdown = bm
	app.ScoredAt = &scoredAt
	app.AutoScreened = opts.auto
	app.Version++
	res := Result{Applicant: app, Breakdown: b}

	s.logger.Info("applicant scored",
		append(fields, zap.Float64("score", b.Total), zap.String("policy", b.Policy), zap.Bool("auto", opts.auto))...)

	out, err := s.deps.Gate.ApplyScoreGate(ctx, app.ID)
	if err != nil {
		s.logger.Error("apply score gate", append(fields, zap.Error(err))...)
	} else {
		res.Gate = &out
		if out.To != "" && (out.Action == pipeline.ActionAdvanced || out.Action == pipeline.ActionDropped) {
			res.Applicant.Stage = out.To
			res.Applicant.Version++
		}
	}

	if job.HighScoreNotify && b.Total >= job.EffectiveHighScoreThreshold() {
		s.deps.Notifier.NotifyHighScore(ctx, res.Applicant, job)
	}
	return res, nil
}

// resumeText 返回缓存的简历文本，缺失时抽取一次并写回。
func (s *Service) resumeText(ctx context.Context, app *model.Applicant) (string, error) {
	if strings.TrimSpace(app.ResumeText) != "" {
		return app.ResumeText, nil
	}
	if !app.HasDocument() {
		return "", &extractor.ExtractionError{Filename: app.ResumeFilename, Reason: "no resume document"}
	}
	text, err := s.deps.Extractor.Extract(ctx, extractor.Document{
		Data:     app.ResumeData,
		Filename: app.ResumeFilename,
		MIME:     app.ResumeMIME,
	})
	if err != nil {
		return "", err
	}
	if err := s.repo.SaveResumeText(ctx, app.ID, text); err != nil {
		s.logger.Warn("cache resume text", append(logger.Applicant(app.ID, app.JobID), zap.Error(err))...)
	}
	app.ResumeText = text
	return text, nil
}
