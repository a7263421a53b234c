// Package catalog 读取 YAML 岗位目录并写入存储：岗位配置、阶段目录与人工标注简历。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"resume-screener/internal/logger"
	"resume-screener/internal/model"
	"resume-screener/internal/scoring"
	"resume-screener/internal/storage"
)

// ErrInvalidCatalog 表示目录文件内容不合法。
var ErrInvalidCatalog = errors.New("invalid catalog")

// Catalog 为目录文件的顶层结构。
type Catalog struct {
	Stages   []StageSpec    `yaml:"stages" validate:"dive"`
	Jobs     []JobSpec      `yaml:"jobs" validate:"dive"`
	Training []TrainingSpec `yaml:"training" validate:"dive"`
}

// StageSpec 描述一个阶段。
type StageSpec struct {
	Key  string `yaml:"key" validate:"required"`
	Name string `yaml:"name"`
}

// JobSpec 描述一个岗位。Stages 非空时作为岗位专属阶段目录。
type JobSpec struct {
	Code                 string      `yaml:"code" validate:"required"`
	Title                string      `yaml:"title" validate:"required"`
	RequiredSkills       []string    `yaml:"required_skills"`
	RequiredKeywords     []string    `yaml:"required_keywords"`
	MinExperienceYears   float64     `yaml:"min_experience_years" validate:"gte=0"`
	MaxExperienceYears   float64     `yaml:"max_experience_years" validate:"gte=0"`
	PassScore            float64     `yaml:"pass_score" validate:"gte=0,lte=100"`
	AnalyticalPassPct    float64     `yaml:"analytical_pass_pct" validate:"gte=0,lte=100"`
	LogicalPassPct       float64     `yaml:"logical_pass_pct" validate:"gte=0,lte=100"`
	CombinedCriteria     bool        `yaml:"combined_criteria"`
	DropOnLogicalFailure bool        `yaml:"drop_on_logical_failure"`
	IdealPrimary         string      `yaml:"ideal_primary"`
	IdealSecondary       string      `yaml:"ideal_secondary"`
	AnalyticalSurveyURL  string      `yaml:"analytical_survey_url" validate:"omitempty,url"`
	LogicalSurveyURL     string      `yaml:"logical_survey_url" validate:"omitempty,url"`
	PersonalitySurveyURL string      `yaml:"personality_survey_url" validate:"omitempty,url"`
	ScoringPolicy        string      `yaml:"scoring_policy" validate:"omitempty,oneof=standard weighted points"`
	WorkflowMode         string      `yaml:"workflow_mode" validate:"omitempty,oneof=gate survey combined"`
	AutoScreen           bool        `yaml:"auto_screen"`
	AutoTrain            bool        `yaml:"auto_train"`
	AutoTrainThreshold   int         `yaml:"auto_train_threshold" validate:"gte=0"`
	HighScoreNotify      bool        `yaml:"high_score_notify"`
	HighScoreThreshold   float64     `yaml:"high_score_threshold" validate:"gte=0,lte=100"`
	SummaryFrequency     string      `yaml:"summary_frequency" validate:"omitempty,oneof=none daily weekly monthly"`
	MaxCandidatesInEmail int         `yaml:"max_candidates_in_email" validate:"gte=0"`
	Stages               []StageSpec `yaml:"stages" validate:"dive"`
}

// TrainingSpec 为一条人工标注简历，Text 与 File 二选一，File 相对目录文件所在路径。
type TrainingSpec struct {
	Label  string `yaml:"label" validate:"required,oneof=good bad"`
	Job    string `yaml:"job"`
	Source string `yaml:"source"`
	Text   string `yaml:"text" validate:"required_without=File"`
	File   string `yaml:"file" validate:"required_without=Text"`
}

// Store 定义写入目录所需的存储操作。
type Store interface {
	UpsertJobs(ctx context.Context, jobs []model.JobProfile) (storage.UpsertResult, error)
	GetJobByCode(ctx context.Context, code string) (*model.JobProfile, error)
	EnsureStage(ctx context.Context, st *model.PipelineStage) error
	AddTrainingResumes(ctx context.Context, resumes []model.TrainingResume) (int, error)
}

// SeedReport 汇总一次写入。
type SeedReport struct {
	JobsCreated   int
	JobsUpdated   int
	Stages        int
	TrainingAdded int
}

var validate = validator.New()

// Load 读取并校验目录文件，File 引用的训练文本在此读入。
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	cat, err := Parse(data)
	if err != nil {
		return Catalog{}, fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range cat.Training {
		t := &cat.Training[i]
		if t.Text != "" || t.File == "" {
			continue
		}
		file := t.File
		if !filepath.IsAbs(file) {
			file = filepath.Join(dir, file)
		}
		body, err := os.ReadFile(file)
		if err != nil {
			return Catalog{}, fmt.Errorf("read training file: %w", err)
		}
		t.Text = string(body)
		if t.Source == "" {
			t.Source = t.File
		}
	}
	return cat, nil
}

// Parse 解析并校验目录内容。
func Parse(data []byte) (Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := cat.Validate(); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

// Validate 校验字段取值、阶段键与岗位引用。
func (c Catalog) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s", ErrInvalidCatalog, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := checkStages("stages", c.Stages); err != nil {
		return err
	}

	codes := make(map[string]struct{}, len(c.Jobs))
	for _, j := range c.Jobs {
		if _, dup := codes[j.Code]; dup {
			return fmt.Errorf("%w: duplicate job code %q", ErrInvalidCatalog, j.Code)
		}
		codes[j.Code] = struct{}{}
		if err := scoring.ValidateProfile(j.profile()); err != nil {
			return fmt.Errorf("%w: job %s: %v", ErrInvalidCatalog, j.Code, err)
		}
		if err := checkStages("jobs."+j.Code+".stages", j.Stages); err != nil {
			return err
		}
	}
	for i, t := range c.Training {
		if t.Job == "" {
			continue
		}
		if _, ok := codes[t.Job]; !ok {
			return fmt.Errorf("%w: training[%d] references unknown job %q", ErrInvalidCatalog, i, t.Job)
		}
	}
	return nil
}

func checkStages(field string, stages []StageSpec) error {
	seen := make(map[string]struct{}, len(stages))
	for _, st := range stages {
		if _, ok := model.StageNames[model.Stage(st.Key)]; !ok {
			return fmt.Errorf("%w: %s: unknown stage key %q", ErrInvalidCatalog, field, st.Key)
		}
		if _, dup := seen[st.Key]; dup {
			return fmt.Errorf("%w: %s: duplicate stage key %q", ErrInvalidCatalog, field, st.Key)
		}
		seen[st.Key] = struct{}{}
	}
	return nil
}

func (j JobSpec) profile() model.JobProfile {
	return model.JobProfile{
		Code:                 strings.TrimSpace(j.Code),
		Title:                j.Title,
		RequiredSkills:       j.RequiredSkills,
		RequiredKeywords:     j.RequiredKeywords,
		MinExperienceYears:   j.MinExperienceYears,
		MaxExperienceYears:   j.MaxExperienceYears,
		PassScore:            j.PassScore,
		AnalyticalPassPct:    j.AnalyticalPassPct,
		LogicalPassPct:       j.LogicalPassPct,
		CombinedCriteria:     j.CombinedCriteria,
		DropOnLogicalFailure: j.DropOnLogicalFailure,
		IdealPrimary:         j.IdealPrimary,
		IdealSecondary:       j.IdealSecondary,
		AnalyticalSurveyURL:  strings.TrimSpace(j.AnalyticalSurveyURL),
		LogicalSurveyURL:     strings.TrimSpace(j.LogicalSurveyURL),
		PersonalitySurveyURL: strings.TrimSpace(j.PersonalitySurveyURL),
		ScoringPolicy:        j.ScoringPolicy,
		WorkflowMode:         model.WorkflowMode(j.WorkflowMode),
		AutoScreen:           j.AutoScreen,
		AutoTrain:            j.AutoTrain,
		AutoTrainThreshold:   j.AutoTrainThreshold,
		HighScoreNotify:      j.HighScoreNotify,
		HighScoreThreshold:   j.HighScoreThreshold,
		SummaryFrequency:     model.SummaryFrequency(j.SummaryFrequency),
		MaxCandidatesInEmail: j.MaxCandidatesInEmail,
	}
}

// Seed 写入目录。未声明全局阶段时写入完整的默认阶段目录。
func Seed(ctx context.Context, store Store, cat Catalog, log *zap.Logger) (SeedReport, error) {
	log = logger.OrNop(log).Named("catalog")
	var report SeedReport

	global := cat.Stages
	if len(global) == 0 {
		for _, key := range model.StageOrder {
			global = append(global, StageSpec{Key: string(key)})
		}
	}
	n, err := seedStages(ctx, store, nil, global)
	if err != nil {
		return report, err
	}
	report.Stages += n

	profiles := make([]model.JobProfile, 0, len(cat.Jobs))
	for _, j := range cat.Jobs {
		profiles = append(profiles, j.profile())
	}
	res, err := store.UpsertJobs(ctx, profiles)
	if err != nil {
		return report, err
	}
	report.JobsCreated, report.JobsUpdated = res.Created, res.Updated

	ids := make(map[string]uint, len(cat.Jobs))
	for _, j := range cat.Jobs {
		job, err := store.GetJobByCode(ctx, j.Code)
		if err != nil {
			return report, fmt.Errorf("get job %s: %w", j.Code, err)
		}
		ids[j.Code] = job.ID
		if len(j.Stages) == 0 {
			continue
		}
		id := job.ID
		n, err := seedStages(ctx, store, &id, j.Stages)
		if err != nil {
			return report, err
		}
		report.Stages += n
	}

	if len(cat.Training) > 0 {
		resumes := make([]model.TrainingResume, 0, len(cat.Training))
		for _, t := range cat.Training {
			r := model.TrainingResume{Label: t.Label, Text: t.Text, Source: t.Source}
			if t.Job != "" {
				id, ok := ids[t.Job]
				if !ok {
					job, err := store.GetJobByCode(ctx, t.Job)
					if err != nil {
						return report, fmt.Errorf("get job %s: %w", t.Job, err)
					}
					id = job.ID
				}
				r.JobID = &id
			}
			resumes = append(resumes, r)
		}
		added, err := store.AddTrainingResumes(ctx, resumes)
		if err != nil {
			return report, err
		}
		report.TrainingAdded = added
	}

	log.Info("catalog seeded",
		zap.Int("jobs_created", report.JobsCreated),
		zap.Int("jobs_updated", report.JobsUpdated),
		zap.Int("stages", report.Stages),
		zap.Int("training_added", report.TrainingAdded),
	)
	return report, nil
}

func seedStages(ctx context.Context, store Store, jobID *uint, stages []StageSpec) (int, error) {
	for i, st := range stages {
		key := model.Stage(st.Key)
		name := st.Name
		if name == "" {
			name = model.StageNames[key]
		}
		if err := store.EnsureStage(ctx, &model.PipelineStage{Key: key, Name: name, Sequence: i, JobID: jobID}); err != nil {
			return i, err
		}
	}
	return len(stages), nil
}
