package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"resume-screener/internal/model"
)

// StageResolver 将阶段键解析为目录中的阶段记录。
// 目标阶段缺失时返回包装 ErrStageNotFound 的错误。
type StageResolver interface {
	Resolve(ctx context.Context, jobID uint, key model.Stage) (model.PipelineStage, error)
}

// StageLookup 查询阶段目录，jobID 为 nil 时查询全局阶段。未找到返回 sql.ErrNoRows。
type StageLookup interface {
	FindStage(ctx context.Context, jobID *uint, key model.Stage) (*model.PipelineStage, error)
}

// CatalogResolver 默认按岗位查找阶段，GlobalFallback 打开时再查全局目录。
type CatalogResolver struct {
	Lookup         StageLookup
	GlobalFallback bool
}

func (r CatalogResolver) Resolve(ctx context.Context, jobID uint, key model.Stage) (model.PipelineStage, error) {
	stage, err := r.Lookup.FindStage(ctx, &jobID, key)
	if err == nil {
		return *stage, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.PipelineStage{}, fmt.Errorf("find stage %s: %w", key, err)
	}
	if r.GlobalFallback {
		stage, err = r.Lookup.FindStage(ctx, nil, key)
		if err == nil {
			return *stage, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return model.PipelineStage{}, fmt.Errorf("find global stage %s: %w", key, err)
		}
	}
	return model.PipelineStage{}, &StageNotFoundError{JobID: jobID, Key: key, Name: model.StageNames[key]}
}
