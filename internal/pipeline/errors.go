package pipeline

import (
	"errors"
	"fmt"

	"resume-screener/internal/model"
)

var (
	// ErrStageNotFound 阶段目录中缺少目标阶段。
	ErrStageNotFound = errors.New("stage not found")
	// ErrInvalidPersonalityScore 性格测评复合分不在 0..99999999。
	ErrInvalidPersonalityScore = errors.New("invalid personality score")
	// ErrInvalidCompletion 测评提交的类型或百分比不合法，或缺少前置测评结果。
	ErrInvalidCompletion = errors.New("invalid survey completion")
	// ErrNoInvitation 当前阶段没有可发送的测评邀请。
	ErrNoInvitation = errors.New("no survey invitation for stage")
	// ErrInvalidLink 手动发送的测评链接不是 http(s) 地址。
	ErrInvalidLink = errors.New("invalid assessment link")
)

// StageNotFoundError 记录缺失的阶段与岗位。
type StageNotFoundError struct {
	JobID uint
	Key   model.Stage
	Name  string
}

func (e *StageNotFoundError) Error() string {
	return fmt.Sprintf("stage %q (%s) not found for job %d", e.Name, e.Key, e.JobID)
}

func (e *StageNotFoundError) Is(target error) bool { return target == ErrStageNotFound }
