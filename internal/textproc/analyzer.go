// Package textproc 提供分词、停用词过滤与英文词干化。
// 资源在进程启动时加载一次并注入评分与分类器。
package textproc

import (
	"bufio"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

//go:embed stopwords_en.txt
var defaultStopwords string

// Analyzer 负责文本切分与归一化，创建后只读，可并发使用。
type Analyzer struct {
	stop map[string]struct{}
}

// NewAnalyzer 加载停用词表。path 为空时使用内置英文表；
// 指定的文件不存在或为空时直接返回错误。
func NewAnalyzer(path string) (*Analyzer, error) {
	source := defaultStopwords
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load stopwords: %w", err)
		}
		source = string(data)
	}

	stop := make(map[string]struct{})
	sc := bufio.NewScanner(strings.NewReader(source))
	for sc.Scan() {
		w := strings.ToLower(strings.TrimSpace(sc.Text()))
		if w == "" || strings.HasPrefix(w, "#") {
			continue
		}
		stop[w] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stopwords: %w", err)
	}
	if len(stop) == 0 {
		return nil, fmt.Errorf("load stopwords: %q contains no words", path)
	}
	return &Analyzer{stop: stop}, nil
}

// MustDefault 使用内置停用词表创建 Analyzer，用于测试与默认装配。
func MustDefault() *Analyzer {
	a, err := NewAnalyzer("")
	if err != nil {
		panic(err)
	}
	return a
}

// Tokens 将文本切分为小写词元，保留 c++、c#、node.js 这类技术词。
func (a *Analyzer) Tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '+' || r == '#' || r == '.')
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if f == "" {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// Stem 返回词干，仅对纯字母词元做词干化。
func (a *Analyzer) Stem(token string) string {
	for _, r := range token {
		if !unicode.IsLetter(r) {
			return token
		}
	}
	return english.Stem(token, false)
}

// IsStopword 判断是否为停用词。
func (a *Analyzer) IsStopword(token string) bool {
	_, ok := a.stop[token]
	return ok
}

// Terms 返回去除停用词与单字符后的词元，用于分类特征。
func (a *Analyzer) Terms(text string) []string {
	tokens := a.Tokens(text)
	terms := tokens[:0]
	for _, t := range tokens {
		if len([]rune(t)) < 2 || a.IsStopword(t) {
			continue
		}
		terms = append(terms, t)
	}
	return terms
}

// Vocabulary 是一段文本的词元集合与词干集合。
type Vocabulary struct {
	Tokens []string
	tokens map[string]struct{}
	stems  map[string]struct{}
}

// Vocabulary 构建文本的词元与词干索引。
func (a *Analyzer) Vocabulary(text string) Vocabulary {
	tokens := a.Tokens(text)
	v := Vocabulary{
		tokens: make(map[string]struct{}, len(tokens)),
		stems:  make(map[string]struct{}, len(tokens)),
	}
	for _, t := range tokens {
		if _, seen := v.tokens[t]; !seen {
			v.Tokens = append(v.Tokens, t)
		}
		v.tokens[t] = struct{}{}
		v.stems[a.Stem(t)] = struct{}{}
	}
	return v
}

// HasToken 判断词元是否出现。
func (v Vocabulary) HasToken(t string) bool {
	_, ok := v.tokens[t]
	return ok
}

// HasStem 判断词干是否出现。
func (v Vocabulary) HasStem(s string) bool {
	_, ok := v.stems[s]
	return ok
}
