package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Format 文档格式。
type Format string

const (
	FormatUnknown Format = ""
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
	FormatHTML    Format = "html"
	FormatText    Format = "text"
)

// Config 定义抽取配置。
type Config struct {
	Timeout       string `mapstructure:"timeout" yaml:"timeout"`
	PDFLicenseKey string `mapstructure:"pdf_license_key" yaml:"pdf_license_key"`
}

// Document 待抽取的简历文件。
type Document struct {
	Data     []byte
	Filename string
	MIME     string
}

// Extractor 抽取统一接口。
type Extractor interface {
	Extract(ctx context.Context, doc Document) (string, error)
}

// backend 为单一格式的抽取实现。
type backend interface {
	extract(ctx context.Context, data []byte) (string, error)
}

// Adapter 按格式分派到具体实现，并负责超时与归一化。
type Adapter struct {
	backends map[Format]backend
	timeout  time.Duration
	logger   *zap.Logger
}

// New 创建 Adapter，默认超时 20s。
func New(cfg Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := 20 * time.Second
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}
	return &Adapter{
		backends: map[Format]backend{
			FormatPDF:  newPDFBackend(cfg.PDFLicenseKey, logger),
			FormatDOCX: docxBackend{},
			FormatHTML: htmlBackend{},
			FormatText: textBackend{},
		},
		timeout: timeout,
		logger:  logger.Named("extractor"),
	}
}

// Extract 抽取文本；空结果、未知格式、超时均返回 ExtractionError。
func (a *Adapter) Extract(ctx context.Context, doc Document) (string, error) {
	if len(doc.Data) == 0 {
		return "", failed(doc, "empty document", nil)
	}
	format := Detect(doc)
	b, ok := a.backends[format]
	if !ok {
		return "", failed(doc, "unsupported format", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := b.extract(ctx, doc.Data)
		done <- result{text: text, err: err}
	}()

	var raw string
	select {
	case <-ctx.Done():
		reason := "timeout"
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "canceled"
		}
		return "", failed(doc, reason, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", failed(doc, fmt.Sprintf("read %s", format), res.err)
		}
		raw = res.text
	}

	text := Normalize(raw)
	if text == "" {
		return "", failed(doc, "no text found", nil)
	}
	a.logger.Debug("extracted text",
		zap.String("filename", doc.Filename),
		zap.String("format", string(format)),
		zap.Int("chars", utf8.RuneCountInString(text)),
	)
	return text, nil
}

// Detect 根据魔数、MIME 与扩展名判断格式。
func Detect(doc Document) Format {
	ext := strings.ToLower(filepath.Ext(doc.Filename))
	mime := strings.ToLower(strings.TrimSpace(doc.MIME))
	if mime == "" && len(doc.Data) > 0 {
		mime = http.DetectContentType(doc.Data)
	}

	switch {
	case bytes.HasPrefix(doc.Data, []byte("%PDF")):
		return FormatPDF
	case bytes.HasPrefix(doc.Data, []byte("PK\x03\x04")):
		if ext == ".docx" || strings.Contains(mime, "wordprocessingml") || mime == "application/zip" {
			return FormatDOCX
		}
		return FormatUnknown
	case ext == ".html" || ext == ".htm" || strings.HasPrefix(mime, "text/html"):
		return FormatHTML
	case ext == ".txt" || ext == ".md" || strings.HasPrefix(mime, "text/"):
		return FormatText
	case ext == "" && utf8.Valid(doc.Data):
		return FormatText
	}
	return FormatUnknown
}

type textBackend struct{}

func (textBackend) extract(_ context.Context, data []byte) (string, error) {
	return strings.ToValidUTF8(string(data), ""), nil
}
