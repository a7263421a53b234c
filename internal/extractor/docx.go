package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"golang.org/x/net/html"
)

type docxBackend struct{}

func (docxBackend) extract(_ context.Context, data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	return documentXMLText(r.Editable().GetContent())
}

// documentXMLText 从 word/document.xml 中取出 w:t 文本，段落与换行转为 \n。
func documentXMLText(content string) (string, error) {
	z := html.NewTokenizer(strings.NewReader(content))
	var b strings.Builder
	inText := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", fmt.Errorf("tokenize document xml: %w", err)
			}
			return b.String(), nil
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "w:t":
				inText = true
			case "w:tab":
				b.WriteString(" ")
			case "w:br":
				b.WriteString("\n")
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "w:tab":
				b.WriteString(" ")
			case "w:br", "w:cr":
				b.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "w:t":
				inText = false
			case "w:p":
				b.WriteString("\n")
			}
		case html.TextToken:
			if inText {
				b.Write(z.Text())
			}
		}
	}
}
