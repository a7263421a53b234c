package scoring

import (
	"fmt"
	"math"

	"github.com/mitchellh/mapstructure"
	"gorm.io/datatypes"
)

// Component 为单项得分及其满分。
type Component struct {
	Score float64 `mapstructure:"score" json:"score"`
	Max   float64 `mapstructure:"max" json:"max"`
}

// Breakdown 为一次评分的完整结果，每次评分重新生成。
type Breakdown struct {
	Policy     string    `mapstructure:"policy" json:"policy"`
	Skills     Component `mapstructure:"skills" json:"skills"`
	Keywords   Component `mapstructure:"keywords" json:"keywords"`
	Experience Component `mapstructure:"experience" json:"experience"`
	Structure  Component `mapstructure:"structure" json:"structure"`
	Education  Component `mapstructure:"education" json:"education"`
	Classifier Component `mapstructure:"classifier" json:"classifier"`
	Total      float64   `mapstructure:"total" json:"total"`

	MatchedSkills         []string `mapstructure:"matched_skills" json:"matched_skills"`
	MissingSkills         []string `mapstructure:"missing_skills" json:"missing_skills"`
	MatchedKeywords       []string `mapstructure:"matched_keywords" json:"matched_keywords"`
	ExperienceYears       float64  `mapstructure:"experience_years" json:"experience_years"`
	ExperienceSource      string   `mapstructure:"experience_source" json:"experience_source"`
	Sections              []string `mapstructure:"sections" json:"sections"`
	ContactFound          bool     `mapstructure:"contact_found" json:"contact_found"`
	EducationTier         string   `mapstructure:"education_tier" json:"education_tier"`
	ClassifierProbability float64  `mapstructure:"classifier_probability" json:"classifier_probability"`
	ClassifierVersion     string   `mapstructure:"classifier_version" json:"classifier_version"`
}

// Components 按固定顺序返回各单项。
func (b Breakdown) Components() []Component {
	return []Component{b.Skills, b.Keywords, b.Experience, b.Structure, b.Education, b.Classifier}
}

// Sum 返回各单项之和（未封顶）。
func (b Breakdown) Sum() float64 {
	var sum float64
	for _, c := range b.Components() {
		sum += c.Score
	}
	return round2(sum)
}

// JSONMap 转为可持久化的 JSON 字段。
func (b Breakdown) JSONMap() (datatypes.JSONMap, error) {
	out := map[string]any{}
	if err := mapstructure.Decode(b, &out); err != nil {
		return nil, fmt.Errorf("encode breakdown: %w", err)
	}
	return datatypes.JSONMap(out), nil
}

// FromJSONMap 从持久化字段还原 Breakdown。
func FromJSONMap(m datatypes.JSONMap) (Breakdown, error) {
	var b Breakdown
	if len(m) == 0 {
		return b, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &b,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return b, fmt.Errorf("decode breakdown: %w", err)
	}
	if err := dec.Decode(map[string]any(m)); err != nil {
		return b, fmt.Errorf("decode breakdown: %w", err)
	}
	return b, nil
}

func clamp(v, max float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
