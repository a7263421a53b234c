package extractor

import (
	"errors"
	"fmt"
)

// ErrExtractionFailed 表示文档无法读取或抽取结果为空。
var ErrExtractionFailed = errors.New("extraction failed")

// ExtractionError 携带文件名与失败原因，errors.Is 可匹配 ErrExtractionFailed。
type ExtractionError struct {
	Filename string
	Reason   string
	Err      error
}

func (e *ExtractionError) Error() string {
	name := e.Filename
	if name == "" {
		name = "document"
	}
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", name, e.Reason, e.Err)
	}
	return fmt.Sprintf("extract %s: %s", name, e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtractionFailed }

func failed(doc Document, reason string, err error) error {
	return &ExtractionError{Filename: doc.Filename, Reason: reason, Err: err}
}
