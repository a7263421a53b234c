package scoring

import (
	"regexp"
	"strings"
)

// sectionSynonyms 各标准章节及其同义写法。
var sectionSynonyms = []struct {
	name     string
	synonyms []string
}{
	{"experience", []string{"experience", "work history", "employment history", "employment"}},
	{"education", []string{"education", "academic background", "qualifications"}},
	{"skills", []string{"skills", "technical skills", "competencies", "expertise"}},
	{"summary", []string{"summary", "profile", "objective", "about me"}},
	{"projects", []string{"projects", "portfolio"}},
	{"certifications", []string{"certifications", "certification", "certificates", "licenses"}},
}

var (
	emailPattern   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneCandidate = regexp.MustCompile(`\+?\(?\d[\d \t().\-]{7,}\d`)
)

// DetectSections 返回出现的标准章节，每个章节只计一次。
func DetectSections(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, s := range sectionSynonyms {
		for _, syn := range s.synonyms {
			if strings.Contains(lower, syn) {
				found = append(found, s.name)
				break
			}
		}
	}
	return found
}

// HasContact 同时找到邮箱与电话号码时返回 true。
func HasContact(text string) bool {
	if !emailPattern.MatchString(text) {
		return false
	}
	for _, c := range phoneCandidate.FindAllString(text, -1) {
		digits := 0
		for _, r := range c {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits >= 9 && digits <= 15 {
			return true
		}
	}
	return false
}

func scoreStructure(rule StructureRule, sections int, contact bool) float64 {
	if rule.Max == 0 {
		return 0
	}
	ratio := float64(sections) / float64(len(sectionSynonyms))
	score := ratio * (rule.Max - rule.ContactBonus)
	if contact {
		score += rule.ContactBonus
	}
	return clamp(score, rule.Max)
}

// educationTiers 学历关键词与档位，取最高档。
var educationTiers = []struct {
	tier    string
	level   float64
	pattern *regexp.Regexp
}{
	{"doctorate", 5, regexp.MustCompile(`(?i)\b(ph\.?d|doctorate|doctoral)\b`)},
	{"master", 4, regexp.MustCompile(`(?i)\b(master'?s?|mba|m\.?sc|m\.?tech|m\.?eng)\b`)},
	{"bachelor", 3, regexp.MustCompile(`(?i)\b(bachelor'?s?|b\.?sc|b\.?tech|b\.?eng|undergraduate degree)\b`)},
	{"associate", 2, regexp.MustCompile(`(?i)\b(associate degree|associate'?s|diploma)\b`)},
	{"certificate", 1, regexp.MustCompile(`(?i)\b(certificate|certification|certified)\b`)},
}

const maxEducationLevel = 5.0

// DetectEducation 返回匹配到的最高学历档位。
func DetectEducation(text string) (string, float64) {
	for _, t := range educationTiers {
		if t.pattern.MatchString(text) {
			return t.tier, t.level
		}
	}
	return "", 0
}

func scoreEducation(max, level float64) float64 {
	return clamp(level/maxEducationLevel*max, max)
}
