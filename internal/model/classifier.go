package model

import "time"

// ClassifierArtifact 持久化的分类器，Scope 为 "global" 或 "job:<id>"。
type ClassifierArtifact struct {
	Scope      string    `gorm:"primaryKey;size:32" json:"scope"`
	Version    string    `gorm:"size:36" json:"version"`
	Blob       []byte    `json:"-"`
	CorpusSize int       `json:"corpus_size"`
	Trained    bool      `json:"trained"`
	TrainedAt  time.Time `json:"trained_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TrainingResume 人工标注的训练简历，JobID 为空时对所有岗位生效。
type TrainingResume struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	JobID     *uint     `gorm:"index" json:"job_id,omitempty"`
	Label     string    `gorm:"size:8" json:"label"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}
