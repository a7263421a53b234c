package scoring

import (
	"strings"
	"unicode/utf8"

	"github.com/xrash/smetrics"

	"resume-screener/internal/textproc"
)

const (
	minFuzzyRunes = 4
	// minLengthRatio 为模糊匹配前较短词与较长词的最小长度比。
	minLengthRatio = 0.8
)

// termMatcher 判断技能或关键词是否出现在简历中。
type termMatcher struct {
	analyzer  *textproc.Analyzer
	lower     string
	vocab     textproc.Vocabulary
	threshold float64
}

func newTermMatcher(a *textproc.Analyzer, text string, threshold float64) termMatcher {
	return termMatcher{
		analyzer:  a,
		lower:     strings.ToLower(text),
		vocab:     a.Vocabulary(text),
		threshold: threshold,
	}
}

// match 依次尝试：子串匹配、单词模糊匹配（Jaro）、多词全部出现。
func (m termMatcher) match(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return false
	}
	if strings.Contains(m.lower, term) {
		return true
	}

	words := m.analyzer.Tokens(term)
	switch len(words) {
	case 0:
		return false
	case 1:
		return m.fuzzy(words[0])
	}
	checked := 0
	for _, w := range words {
		if m.analyzer.IsStopword(w) {
			continue
		}
		if !m.vocab.HasToken(w) && !m.vocab.HasStem(m.analyzer.Stem(w)) {
			return false
		}
		checked++
	}
	return checked > 0
}

func (m termMatcher) fuzzy(word string) bool {
	if m.vocab.HasStem(m.analyzer.Stem(word)) {
		return true
	}
	n := utf8.RuneCountInString(word)
	if n < minFuzzyRunes {
		return false
	}
	for _, tok := range m.vocab.Tokens {
		k := utf8.RuneCountInString(tok)
		if k < minFuzzyRunes || !comparableLength(n, k) {
			continue
		}
		if Similarity(word, tok) >= m.threshold {
			return true
		}
	}
	return false
}

// Similarity 返回两个词的 Jaro 相似度，不做前缀加权。
func Similarity(a, b string) float64 {
	return smetrics.Jaro(a, b)
}

func comparableLength(a, b int) bool {
	if a > b {
		a, b = b, a
	}
	return float64(a)/float64(b) >= minLengthRatio
}

// matchAll 返回命中与未命中的条目，保持原始顺序并去重。
func (m termMatcher) matchAll(terms []string) (matched, missing []string) {
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		key := strings.ToLower(strings.TrimSpace(t))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if m.match(t) {
			matched = append(matched, strings.TrimSpace(t))
		} else {
			missing = append(missing, strings.TrimSpace(t))
		}
	}
	return matched, missing
}

// scoreMatch 按阶梯表或线性方式计分，未配置条目时返回中性分。
func scoreMatch(rule MatchRule, matched, required int) float64 {
	if rule.Max == 0 {
		return 0
	}
	if required == 0 {
		return rule.Neutral
	}
	rate := float64(matched) / float64(required)

	score := rate * rule.Max
	if len(rule.Steps) > 0 {
		score = 0
		for _, step := range rule.Steps {
			if rate >= step.MinRate {
				score = step.Points
				break
			}
		}
	}

	var bonus float64
	for _, b := range rule.HitBonuses {
		if matched >= b.MinHits && b.Points > bonus {
			bonus = b.Points
		}
	}
	return clamp(score+bonus, rule.Max)
}
