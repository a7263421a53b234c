package model

import (
	"time"

	"gorm.io/datatypes"
)

// JobProfile 表示一个招聘岗位的筛选配置
// - RequiredSkills/RequiredKeywords: 简历匹配的技能与关键词
// - Min/MaxExperienceYears: 经验区间，0 表示未配置
// - PassScore: 简历分数闸门，默认 70
// - AnalyticalPassPct/LogicalPassPct: 两轮测评阈值，仅在 CombinedCriteria 开启时生效
// - IdealPrimary/IdealSecondary: 性格测评的目标主/次类别
// - *SurveyURL: 各轮测评问卷链接，进入对应阶段时随邀请邮件发出，为空则不发送
// - ScoringPolicy/WorkflowMode: 评分方案与流程模式
// - Auto*/HighScore*/Summary*: 定时任务相关配置

type JobProfile struct {
	ID                   uint                       `gorm:"primaryKey" json:"id"`
	Code                 string                     `gorm:"uniqueIndex;size:64" json:"code"`
	Title                string                     `json:"title"`
	RequiredSkills       datatypes.JSONSlice[string] `json:"required_skills"`
	RequiredKeywords     datatypes.JSONSlice[string] `json:"required_keywords"`
	MinExperienceYears   float64                    `json:"min_experience_years"`
	MaxExperienceYears   float64                    `json:"max_experience_years"`
	PassScore            float64                    `json:"pass_score"`
	AnalyticalPassPct    float64                    `json:"analytical_pass_pct"`
	LogicalPassPct       float64                    `json:"logical_pass_pct"`
	CombinedCriteria     bool                       `json:"combined_criteria"`
	DropOnLogicalFailure bool                       `json:"drop_on_logical_failure"`
	IdealPrimary         string                     `json:"ideal_primary"`
	IdealSecondary       string                     `json:"ideal_secondary"`
	AnalyticalSurveyURL  string                     `gorm:"size:512" json:"analytical_survey_url,omitempty"`
	LogicalSurveyURL     string                     `gorm:"size:512" json:"logical_survey_url,omitempty"`
	PersonalitySurveyURL string                     `gorm:"size:512" json:"personality_survey_url,omitempty"`
	ScoringPolicy        string                     `gorm:"size:32" json:"scoring_policy"`
	WorkflowMode         WorkflowMode               `gorm:"size:16" json:"workflow_mode"`
	AutoScreen           bool                       `json:"auto_screen"`
	AutoTrain            bool                       `json:"auto_train"`
	AutoTrainThreshold   int                        `json:"auto_train_threshold"`
	HighScoreNotify      bool                       `json:"high_score_notify"`
	HighScoreThreshold   float64                    `json:"high_score_threshold"`
	SummaryFrequency     SummaryFrequency           `gorm:"size:16" json:"summary_frequency"`
	MaxCandidatesInEmail int                        `json:"max_candidates_in_email"`
	LastAutoTrainAt      *time.Time                 `json:"last_auto_train_at,omitempty"`
	LastSummaryAt        *time.Time                 `json:"last_summary_at,omitempty"`
	CreatedAt            time.Time                  `json:"created_at"`
	UpdatedAt            time.Time                  `json:"updated_at"`
}

// WorkflowMode 决定简历分数闸门与测评链的关系。
type WorkflowMode string

const (
	// WorkflowGate 仅按简历分数进入 QualifiedResume 或 Dropped。
	WorkflowGate WorkflowMode = "gate"
	// WorkflowSurvey 仅由测评链推进，分数不改变阶段。
	WorkflowSurvey WorkflowMode = "survey"
	// WorkflowCombined 分数闸门作为入口过滤，未通过直接 Dropped，通过后继续测评链。
	WorkflowCombined WorkflowMode = "combined"
)

// SummaryFrequency 汇总邮件频率。
type SummaryFrequency string

const (
	FrequencyNone    SummaryFrequency = "none"
	FrequencyDaily   SummaryFrequency = "daily"
	FrequencyWeekly  SummaryFrequency = "weekly"
	FrequencyMonthly SummaryFrequency = "monthly"
)

const (
	DefaultPassScore            = 70.0
	DefaultHighScoreThreshold   = 80.0
	DefaultAutoTrainThreshold   = 10
	DefaultMaxCandidatesInEmail = 50
)

// EffectivePassScore 返回生效的通过分数，未配置时为 70。
func (j JobProfile) EffectivePassScore() float64 {
	if j.PassScore <= 0 {
		return DefaultPassScore
	}
	return j.PassScore
}

func (j JobProfile) EffectiveHighScoreThreshold() float64 {
	if j.HighScoreThreshold <= 0 {
		return DefaultHighScoreThreshold
	}
	return j.HighScoreThreshold
}

func (j JobProfile) EffectiveAutoTrainThreshold() int {
	if j.AutoTrainThreshold <= 0 {
		return DefaultAutoTrainThreshold
	}
	return j.AutoTrainThreshold
}

func (j JobProfile) EffectiveMaxCandidates() int {
	if j.MaxCandidatesInEmail <= 0 {
		return DefaultMaxCandidatesInEmail
	}
	return j.MaxCandidatesInEmail
}

// SurveyURL 返回指定测评的问卷链接，未配置或不支持邀请的类型返回空串。
func (j JobProfile) SurveyURL(kind SurveyKind) string {
	switch kind {
	case SurveyAnalytical:
		return j.AnalyticalSurveyURL
	case SurveyLogical:
		return j.LogicalSurveyURL
	case SurveyPersonality:
		return j.PersonalitySurveyURL
	default:
		return ""
	}
}

// EffectiveWorkflow 未配置时按 gate 处理。
func (j JobProfile) EffectiveWorkflow() WorkflowMode {
	switch j.WorkflowMode {
	case WorkflowSurvey, WorkflowCombined:
		return j.WorkflowMode
	default:
		return WorkflowGate
	}
}

// Period 返回汇总频率对应的时间窗口。
func (f SummaryFrequency) Period() time.Duration {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}
