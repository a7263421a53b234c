package scoring

import (
	"errors"
	"fmt"
)

// ErrInvalidProfile 表示岗位配置或评分方案不合法。
var ErrInvalidProfile = errors.New("invalid profile")

// InvalidProfileError 指出不合法的字段。
type InvalidProfileError struct {
	Field  string
	Reason string
}

func (e *InvalidProfileError) Error() string {
	return fmt.Sprintf("invalid profile: %s %s", e.Field, e.Reason)
}

func (e *InvalidProfileError) Is(target error) bool { return target == ErrInvalidProfile }

func invalid(field, format string, args ...any) error {
	return &InvalidProfileError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
