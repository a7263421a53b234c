package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/unidoc/unipdf/v3/common/license"
	pdfextractor "github.com/unidoc/unipdf/v3/extractor"
	pdfmodel "github.com/unidoc/unipdf/v3/model"
	"go.uber.org/zap"
)

type pdfBackend struct {
	logger *zap.Logger
}

func newPDFBackend(licenseKey string, logger *zap.Logger) pdfBackend {
	if key := strings.TrimSpace(licenseKey); key != "" {
		if err := license.SetMeteredKey(key); err != nil {
			logger.Warn("set pdf license key", zap.Error(err))
		}
	}
	return pdfBackend{logger: logger}
}

// extract 逐页抽取文本，单页失败跳过。
func (p pdfBackend) extract(ctx context.Context, data []byte) (string, error) {
	reader, err := pdfmodel.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	numPages, err := reader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("count pages: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page, err := reader.GetPage(i)
		if err != nil {
			p.logger.Debug("skip pdf page", zap.Int("page", i), zap.Error(err))
			continue
		}
		ex, err := pdfextractor.New(page)
		if err != nil {
			p.logger.Debug("skip pdf page", zap.Int("page", i), zap.Error(err))
			continue
		}
		text, err := ex.ExtractText()
		if err != nil {
			p.logger.Debug("skip pdf page", zap.Int("page", i), zap.Error(err))
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}
