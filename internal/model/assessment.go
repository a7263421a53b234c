package model

import "time"

// SurveyKind 测评类型。
type SurveyKind string

const (
	SurveyVideo       SurveyKind = "video"
	SurveyAnalytical  SurveyKind = "analytical"
	SurveyLogical     SurveyKind = "logical"
	SurveyPersonality SurveyKind = "personality"
)

// AssessmentResult 记录一次测评提交。
// 性格测评的 RawTotal 为 8 位复合分，视频提交的 RawTotal 为附件总字节数。
type AssessmentResult struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ApplicantID uint       `gorm:"index" json:"applicant_id"`
	Kind        SurveyKind `gorm:"size:16;index" json:"kind"`
	Percentage  float64    `json:"percentage"`
	RawTotal    int64      `json:"raw_total"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"created_at"`
}

// PipelineStage 为阶段目录中的一条记录，JobID 为空表示全局阶段。
type PipelineStage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       Stage     `gorm:"column:stage_key;size:32;index" json:"key"`
	Name      string    `json:"name"`
	Sequence  int       `json:"sequence"`
	JobID     *uint     `gorm:"index" json:"job_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
