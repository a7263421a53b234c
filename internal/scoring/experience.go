package scoring

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MaxExperienceYears 经验年限上限。
const MaxExperienceYears = 50.0

// 经验来源。
const (
	SourceNone   = "none"
	SourcePhrase = "phrase"
	SourceRanges = "ranges"
)

var explicitPhrase = regexp.MustCompile(`(?i)` +
	`\b(\d{1,2}(?:\.\d+)?)\s*\+?\s*(?:years?|yrs?)(?:\s+of)?(?:\s+(?:professional|relevant|industry|work|hands-on))?\s+experience` +
	`|\b(\d{1,2}(?:\.\d+)?)\s*\+?\s*(?:years?|yrs?)\s+(?:in|as|with)\b` +
	`|experience\s+of\s+(\d{1,2}(?:\.\d+)?)\s*\+?\s*(?:years?|yrs?)`)

const monthPattern = `(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?`

var dateRange = regexp.MustCompile(`(?i)` +
	`(?:\b` + monthPattern + `\s+|\b(\d{1,2})/)?` +
	`((?:19|20)\d{2})\s*(?:-|–|—|to|until|till)\s*` +
	`(?:(?:\b` + monthPattern + `\s+|\b(\d{1,2})/)?((?:19|20)\d{2})\b|(present|current|now|today|date)\b)`)

var monthIndex = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "sept": 9, "oct": 10, "nov": 11, "dec": 12,
}

// yearSpan 为以年为单位的区间，start/end 可含月份小数。
type yearSpan struct {
	start, end float64
}

// ExtractExperience 抽取经验年限：优先显式表述，其次合并日期区间，上限 50 年。
func ExtractExperience(text string, now time.Time) (float64, string) {
	if m := explicitPhrase.FindStringSubmatch(text); m != nil {
		for _, g := range m[1:] {
			if g == "" {
				continue
			}
			if v, err := strconv.ParseFloat(g, 64); err == nil {
				return math.Min(v, MaxExperienceYears), SourcePhrase
			}
		}
	}

	spans := parseSpans(text, now)
	if len(spans) == 0 {
		return 0, SourceNone
	}
	return math.Min(round2(mergeSpans(spans)), MaxExperienceYears), SourceRanges
}

func parseSpans(text string, now time.Time) []yearSpan {
	var spans []yearSpan
	for _, m := range dateRange.FindAllStringSubmatch(text, -1) {
		startMonth := parseMonth(m[1], m[2])
		startYear, _ := strconv.Atoi(m[3])

		var endYear, endMonth int
		if m[7] != "" {
			endYear = now.Year()
			if startMonth > 0 {
				endMonth = int(now.Month())
			}
		} else {
			endYear, _ = strconv.Atoi(m[6])
			endMonth = parseMonth(m[4], m[5])
		}

		// 只有两端都带月份时才按月计算。
		if startMonth == 0 || endMonth == 0 {
			startMonth, endMonth = 0, 0
		}
		span := yearSpan{start: yearValue(startYear, startMonth), end: yearValue(endYear, endMonth)}
		if span.end < span.start {
			continue
		}
		spans = append(spans, span)
	}
	return spans
}

func parseMonth(name, numeric string) int {
	if name != "" {
		return monthIndex[strings.ToLower(name)]
	}
	if numeric != "" {
		if v, err := strconv.Atoi(numeric); err == nil && v >= 1 && v <= 12 {
			return v
		}
	}
	return 0
}

func yearValue(year, month int) float64 {
	if month == 0 {
		return float64(year)
	}
	return float64(year) + float64(month-1)/12
}

// mergeSpans 按起点排序，合并重叠或首尾相接的区间后求和。
func mergeSpans(spans []yearSpan) float64 {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start == spans[j].start {
			return spans[i].end < spans[j].end
		}
		return spans[i].start < spans[j].start
	})

	var total float64
	cur := spans[0]
	for _, s := range spans[1:] {
		if s.start <= cur.end {
			if s.end > cur.end {
				cur.end = s.end
			}
			continue
		}
		total += cur.end - cur.start
		cur = s
	}
	total += cur.end - cur.start
	return total
}

// scoreExperience 将年限映射为分数。
func scoreExperience(rule ExperienceRule, years, min, max float64) float64 {
	if rule.Max == 0 {
		return 0
	}
	if min <= 0 && max <= 0 {
		return rule.Neutral
	}
	if rule.Linear {
		if min <= 0 {
			return rule.Neutral
		}
		return clamp(math.Min(years/min, 1)*rule.Max, rule.Max)
	}
	switch {
	case min > 0 && years < min:
		gap := min - years
		return clamp(math.Max(rule.Floor, rule.BelowBase-gap*rule.Decay), rule.Max)
	case max > 0 && years > max:
		return rule.OverMax
	default:
		return rule.Max
	}
}
