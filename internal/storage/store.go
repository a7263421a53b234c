package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"resume-screener/internal/model"

	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// ErrConcurrencyConflict 表示乐观锁版本不一致，记录已被其他进程修改。
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// Config 描述数据库连接。Driver 为 sqlite（默认）或 mysql。
type Config struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// Store 封装岗位、应聘者、测评、阶段目录、分类器与订阅的数据访问。
type Store struct {
	db *gorm.DB
}

// UpsertResult 表示岗位写入结果。
type UpsertResult struct {
	Created int
	Updated int
}

// ApplicantQuery 提供应聘者查询过滤条件，结果按分数倒序。
type ApplicantQuery struct {
	JobID    uint
	MinScore float64
	Since    *time.Time
	Scored   bool
	WithText bool
	Limit    int
	Offset   int
}

// ScoreUpdate 为一次评分写入的内容。
type ScoreUpdate struct {
	Score        float64
	Range        model.ScoreRange
	Breakdown    datatypes.JSONMap
	ScoredAt     time.Time
	AutoScreened bool
}

// NewStore 打开 SQLite 数据库并自动迁移数据表。
func NewStore(dbPath string) (*Store, error) {
	return Open(Config{Driver: "sqlite", DSN: dbPath})
}

// Open 按配置打开数据库并自动迁移数据表。
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "screener.db"
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dialector = sqlite.Open(dsn)
	case "mysql":
		if cfg.DSN == "" {
			return nil, errors.New("open mysql: dsn is required")
		}
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("open db: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if err := db.AutoMigrate(
		&model.JobProfile{},
		&model.Applicant{},
		&model.AssessmentResult{},
		&model.PipelineStage{},
		&model.ClassifierArtifact{},
		&model.TrainingResume{},
		&model.Subscription{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate models: %w", err)
	}

	return &Store{db: db}, nil
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

// --- jobs ---

// UpsertJobs 按 Code 写入岗位配置，不覆盖定时任务写入的时间戳。
func (s *Store) UpsertJobs(ctx context.Context, jobs []model.JobProfile) (UpsertResult, error) {
	res := UpsertResult{}
	if len(jobs) == 0 {
		return res, nil
	}

	codes := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if strings.TrimSpace(job.Code) == "" {
			return res, fmt.Errorf("upsert jobs: job %q has no code", job.Title)
		}
		codes = append(codes, job.Code)
	}

	var existing []string
	if err := s.db.WithContext(ctx).Model(&model.JobProfile{}).Where("code IN ?", codes).Pluck("code", &existing).Error; err != nil {
		return res, fmt.Errorf("query existing codes: %w", err)
	}
	existingSet := make(map[string]struct{}, len(existing))
	for _, code := range existing {
		existingSet[code] = struct{}{}
	}
	for _, code := range codes {
		if _, ok := existingSet[code]; ok {
			res.Updated++
			continue
		}
		res.Created++
		existingSet[code] = struct{}{}
	}

	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title",
			"required_skills",
			"required_keywords",
			"min_experience_years",
			"max_experience_years",
			"pass_score",
			"analytical_pass_pct",
			"logical_pass_pct",
			"combined_criteria",
			"drop_on_logical_failure",
			"ideal_primary",
			"ideal_secondary",
			"analytical_survey_url",
			"logical_survey_url",
			"personality_survey_url",
			"scoring_policy",
			"workflow_mode",
			"auto_screen",
			"auto_train",
			"auto_train_threshold",
			"high_score_notify",
			"high_score_threshold",
			"summary_frequency",
			"max_candidates_in_email",
			"updated_at",
		}),
	}).Create(&jobs)
	if tx.Error != nil {
		return res, fmt.Errorf("upsert jobs: %w", tx.Error)
	}
	return res, nil
}

// ListJobs 返回全部岗位，按 ID 升序。
func (s *Store) ListJobs(ctx context.Context) ([]model.JobProfile, error) {
	var jobs []model.JobProfile
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// GetJob 根据 ID 获取岗位。
func (s *Store) GetJob(ctx context.Context, id uint) (*model.JobProfile, error) {
	var job model.JobProfile
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, notFound("get job", err)
	}
	return &job, nil
}

// GetJobByCode 根据 Code 获取岗位。
func (s *Store) GetJobByCode(ctx context.Context, code string) (*model.JobProfile, error) {
	var job model.JobProfile
	if err := s.db.WithContext(ctx).First(&job, "code = ?", code).Error; err != nil {
		return nil, notFound("get job by code", err)
	}
	return &job, nil
}

// MarkTrained 记录岗位最近一次自动训练时间。
func (s *Store) MarkTrained(ctx context.Context, jobID uint, at time.Time) error {
	return s.touchJob(ctx, jobID, "last_auto_train_at", at)
}

// MarkSummarySent 记录岗位最近一次汇总邮件时间。
func (s *Store) MarkSummarySent(ctx context.Context, jobID uint, at time.Time) error {
	return s.touchJob(ctx, jobID, "last_summary_at", at)
}

func (s *Store) touchJob(ctx context.Context, jobID uint, column string, at time.Time) error {
	tx := s.db.WithContext(ctx).Model(&model.JobProfile{}).Where("id = ?", jobID).Update(column, at)
	if tx.Error != nil {
		return fmt.Errorf("update job %s: %w", column, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("update job %s: id %d: %w", column, jobID, sql.ErrNoRows)
	}
	return nil
}

// --- applicants ---

// CreateApplicant 新增应聘记录。
func (s *Store) CreateApplicant(ctx context.Context, a *model.Applicant) error {
	if a.Stage == "" {
		a.Stage = model.StageNew
	}
	if a.Version == 0 {
		a.Version = 1
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("create applicant: %w", err)
	}
	return nil
}

// GetApplicant 根据 ID 获取应聘记录。
func (s *Store) GetApplicant(ctx context.Context, id uint) (*model.Applicant, error) {
	var a model.Applicant
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound("get applicant", err)
	}
	return &a, nil
}

// ListApplicants 按条件返回应聘者，分数倒序，同分按 ID 升序。
func (s *Store) ListApplicants(ctx context.Context, q ApplicantQuery) ([]model.Applicant, error) {
	var out []model.Applicant
	query := applyApplicantFilters(s.db.WithContext(ctx).Model(&model.Applicant{}), q).
		Omit("resume_data").
		Order("score DESC").Order("id ASC")
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list applicants: %w", err)
	}
	return out, nil
}

// CountApplicants 返回满足条件的应聘者数量。
func (s *Store) CountApplicants(ctx context.Context, q ApplicantQuery) (int64, error) {
	var total int64
	if err := applyApplicantFilters(s.db.WithContext(ctx).Model(&model.Applicant{}), q).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count applicants: %w", err)
	}
	return total, nil
}

// ListUnscoredApplicants 返回岗位下尚未评分且有简历文件或文本的应聘者。
// 从未尝试过的按 ID 升序排在前面，之后是尝试时间最早的失败记录。
func (s *Store) ListUnscoredApplicants(ctx context.Context, jobID uint, limit int) ([]model.Applicant, error) {
	var out []model.Applicant
	query := s.db.WithContext(ctx).
		Where("job_id = ? AND scored_at IS NULL", jobID).
		Where("(resume_text <> '' OR resume_data IS NOT NULL)").
		Order("CASE WHEN screen_attempted_at IS NULL THEN 0 ELSE 1 END").
		Order("screen_attempted_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list unscored applicants: %w", err)
	}
	return out, nil
}

// ListTrainableApplicants 返回已评分且有简历文本的应聘者，jobID 为 nil 表示全部岗位。
func (s *Store) ListTrainableApplicants(ctx context.Context, jobID *uint) ([]model.Applicant, error) {
	var out []model.Applicant
	query := s.db.WithContext(ctx).Omit("resume_data").
		Where("score > 0 AND resume_text <> ''")
	if jobID != nil {
		query = query.Where("job_id = ?", *jobID)
	}
	if err := query.Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list trainable applicants: %w", err)
	}
	return out, nil
}

// CountScoredSince 统计岗位在 since 之后评分的应聘者，since 为 nil 时统计全部已评分记录。
func (s *Store) CountScoredSince(ctx context.Context, jobID uint, since *time.Time) (int64, error) {
	var total int64
	query := s.db.WithContext(ctx).Model(&model.Applicant{}).
		Where("job_id = ? AND scored_at IS NOT NULL", jobID)
	if since != nil {
		query = query.Where("scored_at > ?", *since)
	}
	if err := query.Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count scored applicants: %w", err)
	}
	return total, nil
}

// SaveResumeText 缓存抽取出的简历文本，只在尚无文本时写入，不改变版本号。
func (s *Store) SaveResumeText(ctx context.Context, applicantID uint, text string) error {
	tx := s.db.WithContext(ctx).Model(&model.Applicant{}).
		Where("id = ? AND (resume_text = '' OR resume_text IS NULL)", applicantID).
		UpdateColumn("resume_text", text)
	if tx.Error != nil {
		return fmt.Errorf("save resume text: %w", tx.Error)
	}
	return nil
}

// MarkScreenFailed 记录一次未成功的自动筛选，不改变版本号。
func (s *Store) MarkScreenFailed(ctx context.Context, applicantID uint, at time.Time, reason string) error {
	if len(reason) > 512 {
		reason = reason[:512]
	}
	err := s.db.WithContext(ctx).Model(&model.Applicant{}).
		Where("id = ?", applicantID).
		UpdateColumns(map[string]any{"screen_attempted_at": at, "screen_error": reason}).Error
	if err != nil {
		return fmt.Errorf("mark screen failed: %w", err)
	}
	return nil
}

// SaveScore 以乐观锁写入评分结果，版本不一致时返回 ErrConcurrencyConflict。
func (s *Store) SaveScore(ctx context.Context, applicantID uint, version int, u ScoreUpdate) error {
	return s.versioned(ctx, "save score", applicantID, version, map[string]any{
		"score":         u.Score,
		"score_range":   u.Range,
		"breakdown":     u.Breakdown,
		"scored_at":     u.ScoredAt,
		"auto_screened": u.AutoScreened,
		"screen_error":  "",
	})
}

// UpdateStage 以乐观锁写入阶段，版本不一致时返回 ErrConcurrencyConflict。
func (s *Store) UpdateStage(ctx context.Context, applicantID uint, version int, stage model.PipelineStage) error {
	return s.versioned(ctx, "update stage", applicantID, version, map[string]any{
		"stage":    stage.Key,
		"stage_id": stage.ID,
	})
}

func (s *Store) versioned(ctx context.Context, op string, applicantID uint, version int, values map[string]any) error {
	values["version"] = gorm.Expr("version + 1")
	tx := s.db.WithContext(ctx).Model(&model.Applicant{}).
		Where("id = ? AND version = ?", applicantID, version).
		Updates(values)
	if tx.Error != nil {
		return fmt.Errorf("%s: %w", op, tx.Error)
	}
	if tx.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Applicant{}).Where("id = ?", applicantID).Count(&count).Error; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if count == 0 {
		return fmt.Errorf("%s: applicant %d: %w", op, applicantID, sql.ErrNoRows)
	}
	return fmt.Errorf("%s: applicant %d version %d: %w", op, applicantID, version, ErrConcurrencyConflict)
}

func applyApplicantFilters(db *gorm.DB, q ApplicantQuery) *gorm.DB {
	if q.JobID > 0 {
		db = db.Where("job_id = ?", q.JobID)
	}
	if q.Scored {
		db = db.Where("scored_at IS NOT NULL")
	}
	if q.MinScore > 0 {
		db = db.Where("score >= ?", q.MinScore)
	}
	if q.Since != nil {
		db = db.Where("scored_at > ?", *q.Since)
	}
	if q.WithText {
		db = db.Where("resume_text <> ''")
	}
	return db
}

// --- assessments ---

// RecordAssessment 新增测评结果。
func (s *Store) RecordAssessment(ctx context.Context, r *model.AssessmentResult) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("record assessment: %w", err)
	}
	return nil
}

// LatestAssessment 返回应聘者指定类型的最近一次已完成测评。
func (s *Store) LatestAssessment(ctx context.Context, applicantID uint, kind model.SurveyKind) (*model.AssessmentResult, error) {
	var r model.AssessmentResult
	err := s.db.WithContext(ctx).
		Where("applicant_id = ? AND kind = ? AND completed = ?", applicantID, kind, true).
		Order("created_at DESC").Order("id DESC").
		First(&r).Error
	if err != nil {
		return nil, notFound("latest assessment", err)
	}
	return &r, nil
}

// --- stage catalog ---

// EnsureStage 按 (JobID, Key) 写入阶段目录，已存在时更新名称与顺序。
func (s *Store) EnsureStage(ctx context.Context, st *model.PipelineStage) error {
	var existing model.PipelineStage
	err := scopeJob(s.db.WithContext(ctx), st.JobID).Where("stage_key = ?", st.Key).First(&existing).Error
	switch {
	case err == nil:
		st.ID = existing.ID
		if err := s.db.WithContext(ctx).Model(&existing).Updates(map[string]any{"name": st.Name, "sequence": st.Sequence}).Error; err != nil {
			return fmt.Errorf("update stage: %w", err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.WithContext(ctx).Create(st).Error; err != nil {
			return fmt.Errorf("create stage: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("find stage: %w", err)
	}
}

// FindStage 查询阶段目录，jobID 为 nil 时查询全局阶段。
func (s *Store) FindStage(ctx context.Context, jobID *uint, key model.Stage) (*model.PipelineStage, error) {
	var st model.PipelineStage
	if err := scopeJob(s.db.WithContext(ctx), jobID).Where("stage_key = ?", key).First(&st).Error; err != nil {
		return nil, notFound("find stage", err)
	}
	return &st, nil
}

// ListStages 返回阶段目录，按顺序号排列。
func (s *Store) ListStages(ctx context.Context, jobID *uint) ([]model.PipelineStage, error) {
	var out []model.PipelineStage
	if err := scopeJob(s.db.WithContext(ctx), jobID).Order("sequence ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	return out, nil
}

func scopeJob(db *gorm.DB, jobID *uint) *gorm.DB {
	if jobID == nil {
		return db.Where("job_id IS NULL")
	}
	return db.Where("job_id = ?", *jobID)
}

// --- classifier ---

// GetClassifier 获取指定作用域的分类器。
func (s *Store) GetClassifier(ctx context.Context, scope string) (*model.ClassifierArtifact, error) {
	var art model.ClassifierArtifact
	if err := s.db.WithContext(ctx).First(&art, "scope = ?", scope).Error; err != nil {
		return nil, notFound("get classifier", err)
	}
	return &art, nil
}

// ClassifierVersion 只读取分类器版本号，用于判断缓存是否过期。
func (s *Store) ClassifierVersion(ctx context.Context, scope string) (string, error) {
	var art model.ClassifierArtifact
	if err := s.db.WithContext(ctx).Select("version").Take(&art, "scope = ?", scope).Error; err != nil {
		return "", notFound("get classifier version", err)
	}
	return art.Version, nil
}

// SaveClassifier 在一个事务内整体替换作用域的分类器。
func (s *Store) SaveClassifier(ctx context.Context, art *model.ClassifierArtifact) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("scope = ?", art.Scope).Delete(&model.ClassifierArtifact{}).Error; err != nil {
			return fmt.Errorf("delete classifier: %w", err)
		}
		if err := tx.Create(art).Error; err != nil {
			return fmt.Errorf("create classifier: %w", err)
		}
		return nil
	})
}

// AddTrainingResumes 写入人工标注简历，相同 Source 与岗位的记录跳过。返回新增数量。
func (s *Store) AddTrainingResumes(ctx context.Context, resumes []model.TrainingResume) (int, error) {
	created := 0
	for i := range resumes {
		r := &resumes[i]
		if r.Source != "" {
			var count int64
			query := scopeJob(s.db.WithContext(ctx).Model(&model.TrainingResume{}), r.JobID).Where("source = ?", r.Source)
			if err := query.Count(&count).Error; err != nil {
				return created, fmt.Errorf("query training resume: %w", err)
			}
			if count > 0 {
				continue
			}
		}
		if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
			return created, fmt.Errorf("create training resume: %w", err)
		}
		created++
	}
	return created, nil
}

// ListTrainingResumes 返回人工标注简历。jobID 非空时返回该岗位与全局的记录。
func (s *Store) ListTrainingResumes(ctx context.Context, jobID *uint) ([]model.TrainingResume, error) {
	var out []model.TrainingResume
	query := s.db.WithContext(ctx).Order("id ASC")
	if jobID != nil {
		query = query.Where("(job_id = ? OR job_id IS NULL)", *jobID)
	}
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list training resumes: %w", err)
	}
	return out, nil
}

// --- subscriptions ---

// CreateSubscription 新增订阅。
func (s *Store) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// ListSubscriptions 返回所有订阅记录。
func (s *Store) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	var subs []model.Subscription
	if err := s.db.WithContext(ctx).Order("created_at ASC").Order("id ASC").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// ListJobSubscriptions 返回岗位订阅与全局订阅。
func (s *Store) ListJobSubscriptions(ctx context.Context, jobID uint) ([]model.Subscription, error) {
	var subs []model.Subscription
	if err := s.db.WithContext(ctx).
		Where("(job_id = ? OR job_id IS NULL)", jobID).
		Order("created_at ASC").Order("id ASC").
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list job subscriptions: %w", err)
	}
	return subs, nil
}

func notFound(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sql.ErrNoRows
	}
	return fmt.Errorf("%s: %w", op, err)
}
