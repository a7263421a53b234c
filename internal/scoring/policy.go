package scoring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"resume-screener/internal/model"
)

// 内置评分方案名称。
const (
	PolicyStandard = "standard"
	PolicyWeighted = "weighted"
	PolicyPoints   = "points"
)

// Step 为阶梯表的一档：匹配率 ≥ MinRate 时得 Points。
type Step struct {
	MinRate float64 `validate:"gte=0,lte=1"`
	Points  float64 `validate:"gte=0"`
}

// HitBonus 命中数达到 MinHits 时的额外加分，取满足条件的最高一档。
type HitBonus struct {
	MinHits int     `validate:"gt=0"`
	Points  float64 `validate:"gte=0"`
}

// MatchRule 描述技能或关键词的计分方式。Steps 为空时按匹配率线性计分。
type MatchRule struct {
	Max        float64    `validate:"gte=0"`
	Neutral    float64    `validate:"gte=0"`
	Steps      []Step     `validate:"dive"`
	HitBonuses []HitBonus `validate:"dive"`
}

// ExperienceRule 描述经验计分。Linear 为旧版 min(years/min, 1) 线性模式。
type ExperienceRule struct {
	Max       float64 `validate:"gte=0"`
	Neutral   float64 `validate:"gte=0"`
	Linear    bool
	BelowBase float64 `validate:"gte=0"`
	Decay     float64 `validate:"gte=0"`
	Floor     float64 `validate:"gte=0"`
	OverMax   float64 `validate:"gte=0"`
}

// StructureRule 章节完整度计分，ContactBonus 为同时出现邮箱与电话时的加分。
type StructureRule struct {
	Max          float64 `validate:"gte=0"`
	ContactBonus float64 `validate:"gte=0"`
}

// Policy 是一套命名的权重与阶梯表，注入 Scorer 使用。
type Policy struct {
	Name               string `validate:"required"`
	Skills             MatchRule
	Keywords           MatchRule
	Experience         ExperienceRule
	Structure          StructureRule
	EducationMax       float64 `validate:"gte=0"`
	ClassifierMax      float64 `validate:"gte=0"`
	ClassifierRequired bool
	// Normalize 为 true 时按各项满分之和缩放到 100。
	Normalize      bool
	FuzzyThreshold float64 `validate:"gte=0,lte=1"`
}

var validate = validator.New()

// Validate 校验方案的数值与阶梯表单调性。
func (p Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return invalid(fe.Namespace(), "failed %s=%s (got %v)", fe.Tag(), fe.Param(), fe.Value())
		}
		return invalid("policy", "%v", err)
	}
	if err := p.Skills.validate(p.Name + ".Skills"); err != nil {
		return err
	}
	if err := p.Keywords.validate(p.Name + ".Keywords"); err != nil {
		return err
	}
	e := p.Experience
	if e.Neutral > e.Max || e.OverMax > e.Max || e.Floor > e.Max || e.BelowBase > e.Max {
		return invalid(p.Name+".Experience", "points exceed max %.2f", e.Max)
	}
	if p.Structure.ContactBonus > p.Structure.Max {
		return invalid(p.Name+".Structure.ContactBonus", "exceeds max %.2f", p.Structure.Max)
	}
	if p.total() <= 0 {
		return invalid(p.Name, "has no scoring components")
	}
	return nil
}

func (r MatchRule) validate(field string) error {
	if r.Neutral > r.Max {
		return invalid(field+".Neutral", "exceeds max %.2f", r.Max)
	}
	for i, s := range r.Steps {
		if s.Points > r.Max {
			return invalid(fmt.Sprintf("%s.Steps[%d]", field, i), "exceeds max %.2f", r.Max)
		}
		if i > 0 {
			prev := r.Steps[i-1]
			if s.MinRate >= prev.MinRate || s.Points > prev.Points {
				return invalid(fmt.Sprintf("%s.Steps[%d]", field, i), "is not monotonic")
			}
		}
	}
	return nil
}

func (p Policy) total() float64 {
	return p.Skills.Max + p.Keywords.Max + p.Experience.Max + p.Structure.Max + p.EducationMax + p.ClassifierMax
}

// Standard 默认方案：技能 40、关键词 25、经验 20、结构 10、学历 5、分类器 5，总分封顶 100。
func Standard() Policy {
	return Policy{
		Name: PolicyStandard,
		Skills: MatchRule{
			Max:     40,
			Neutral: 22,
			Steps: []Step{
				{0.95, 40}, {0.85, 38}, {0.70, 34}, {0.55, 30},
				{0.40, 24}, {0.25, 18}, {0.10, 12}, {0, 5},
			},
		},
		Keywords: MatchRule{
			Max:     25,
			Neutral: 14,
			Steps: []Step{
				{0.90, 25}, {0.75, 22}, {0.60, 19}, {0.45, 15},
				{0.30, 11}, {0.15, 7}, {0, 3},
			},
		},
		Experience:     ExperienceRule{Max: 20, Neutral: 12, BelowBase: 16, Decay: 2, Floor: 6, OverMax: 18},
		Structure:      StructureRule{Max: 10, ContactBonus: 2},
		EducationMax:   5,
		ClassifierMax:  5,
		FuzzyThreshold: 0.85,
	}
}

// Weighted 旧版百分比方案：关键词 40、经验 20、结构 10、分类器 30，均为线性。
func Weighted() Policy {
	return Policy{
		Name:               PolicyWeighted,
		Keywords:           MatchRule{Max: 40, Neutral: 20},
		Experience:         ExperienceRule{Max: 20, Neutral: 10, Linear: true},
		Structure:          StructureRule{Max: 10},
		ClassifierMax:      30,
		ClassifierRequired: true,
		Normalize:          true,
		FuzzyThreshold:     0.85,
	}
}

// Points 旧版积分方案：技能 50、经验 20、结构 15、学历 5、分类器 10。
func Points() Policy {
	return Policy{
		Name: PolicyPoints,
		Skills: MatchRule{
			Max:     50,
			Neutral: 28,
			Steps: []Step{
				{0.90, 50}, {0.75, 44}, {0.60, 38}, {0.45, 32},
				{0.30, 26}, {0.20, 20}, {0.10, 14}, {0, 8},
			},
			HitBonuses: []HitBonus{{MinHits: 5, Points: 2}, {MinHits: 8, Points: 3}},
		},
		Experience:     ExperienceRule{Max: 20, Neutral: 12, BelowBase: 16, Decay: 2, Floor: 8, OverMax: 18},
		Structure:      StructureRule{Max: 15, ContactBonus: 3},
		EducationMax:   5,
		ClassifierMax:  10,
		FuzzyThreshold: 0.85,
	}
}

// BuiltinPolicies 返回全部内置方案。
func BuiltinPolicies() []Policy {
	return []Policy{Standard(), Weighted(), Points()}
}

// ValidateProfile 校验岗位配置中与评分相关的字段。
func ValidateProfile(job model.JobProfile) error {
	switch {
	case job.MinExperienceYears < 0:
		return invalid("min_experience_years", "must not be negative")
	case job.MaxExperienceYears < 0:
		return invalid("max_experience_years", "must not be negative")
	case job.MaxExperienceYears > 0 && job.MaxExperienceYears < job.MinExperienceYears:
		return invalid("max_experience_years", "is below min_experience_years")
	case job.PassScore < 0 || job.PassScore > 100:
		return invalid("pass_score", "must be within 0..100")
	case job.AnalyticalPassPct < 0 || job.AnalyticalPassPct > 100:
		return invalid("analytical_pass_pct", "must be within 0..100")
	case job.LogicalPassPct < 0 || job.LogicalPassPct > 100:
		return invalid("logical_pass_pct", "must be within 0..100")
	case job.HighScoreThreshold < 0 || job.HighScoreThreshold > 100:
		return invalid("high_score_threshold", "must be within 0..100")
	}
	for _, s := range job.RequiredSkills {
		if strings.TrimSpace(s) == "" {
			return invalid("required_skills", "contains an empty entry")
		}
	}
	return nil
}
