package model

import (
	"time"

	"gorm.io/datatypes"
)

// Stage 为固定流程中的阶段键。
type Stage string

const (
	StageNew          Stage = "new"
	StageVideo        Stage = "video_submitted"
	StageAnalytical   Stage = "analytical_screening"
	StageLogical      Stage = "logical_screening"
	StagePersonality  Stage = "personality_screening"
	StageIdealProfile Stage = "ideal_profile_screening"
	StageQualified    Stage = "qualified_resume"
	StageDropped      Stage = "dropped"
)

// StageNames 阶段在目录中的展示名称。
var StageNames = map[Stage]string{
	StageNew:          "New",
	StageVideo:        "Video Submitted",
	StageAnalytical:   "Analytical Skills Screening",
	StageLogical:      "Logical Skills Screening",
	StagePersonality:  "Personality Screening",
	StageIdealProfile: "Ideal Profile Screening",
	StageQualified:    "Qualified Resume",
	StageDropped:      "Dropped",
}

// StageOrder 默认目录中阶段的先后顺序。
var StageOrder = []Stage{
	StageNew,
	StageVideo,
	StageAnalytical,
	StageLogical,
	StagePersonality,
	StageIdealProfile,
	StageQualified,
	StageDropped,
}

// Terminal 表示阶段是否为终态。
func (s Stage) Terminal() bool {
	return s == StageQualified || s == StageDropped
}

// ScoreRange 简历分数区间标签。
type ScoreRange string

const (
	RangeNotScored ScoreRange = "not_scored"
	RangeExcellent ScoreRange = "excellent"
	RangeGreat     ScoreRange = "great"
	RangeGood      ScoreRange = "good"
	RangeFair      ScoreRange = "fair"
	RangePoor      ScoreRange = "poor"
)

// RangeFor 根据分数返回区间标签。
func RangeFor(score float64) ScoreRange {
	switch {
	case score <= 0:
		return RangeNotScored
	case score >= 90:
		return RangeExcellent
	case score >= 80:
		return RangeGreat
	case score >= 70:
		return RangeGood
	case score >= 50:
		return RangeFair
	default:
		return RangePoor
	}
}

// Applicant 表示一次应聘记录。
// Version 用于乐观锁，每次写分数或阶段时自增。
// ScreenAttemptedAt 为最近一次自动筛选失败或跳过的时间。
type Applicant struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	JobID             uint              `gorm:"index" json:"job_id"`
	Name              string            `json:"name"`
	Email             string            `json:"email"`
	ResumeFilename    string            `json:"resume_filename"`
	ResumeMIME        string            `gorm:"column:resume_mime" json:"resume_mime"`
	ResumeData        []byte            `json:"-"`
	ResumeText        string            `json:"resume_text,omitempty"`
	Score             float64           `gorm:"index" json:"score"`
	ScoreRange        ScoreRange        `gorm:"size:16" json:"score_range"`
	Breakdown         datatypes.JSONMap `json:"breakdown,omitempty"`
	ScoredAt          *time.Time        `gorm:"index" json:"scored_at,omitempty"`
	AutoScreened      bool              `json:"auto_screened"`
	ScreenAttemptedAt *time.Time        `gorm:"index" json:"screen_attempted_at,omitempty"`
	ScreenError       string            `gorm:"size:512" json:"screen_error,omitempty"`
	StageID           *uint             `json:"stage_id,omitempty"`
	Stage             Stage             `gorm:"size:32;index" json:"stage"`
	Version           int               `gorm:"not null;default:1" json:"version"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// HasDocument 表示是否存在可抽取的简历文件。
func (a Applicant) HasDocument() bool {
	return len(a.ResumeData) > 0
}

// CurrentStage 未设置阶段时视为 New。
func (a Applicant) CurrentStage() Stage {
	if a.Stage == "" {
		return StageNew
	}
	return a.Stage
}
