// Package scoring 根据岗位配置计算简历的 0-100 综合分。
package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"resume-screener/internal/extractor"
	"resume-screener/internal/model"
	"resume-screener/internal/textproc"
)

// Predictor 提供“优质简历”的正类概率。
type Predictor interface {
	Predict(text string) (float64, error)
	Version() string
}

// Config 评分配置。
type Config struct {
	Policies         []Policy
	DefaultPolicy    string
	InferenceTimeout time.Duration
}

// Scorer 为纯计算组件，不读写存储。
type Scorer struct {
	analyzer      *textproc.Analyzer
	policies      map[string]Policy
	defaultPolicy string
	timeout       time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

// NewScorer 创建 Scorer，未提供方案时使用内置方案，默认方案为 standard。
func NewScorer(analyzer *textproc.Analyzer, cfg Config, logger *zap.Logger) (*Scorer, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("scorer requires a text analyzer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	policies := cfg.Policies
	if len(policies) == 0 {
		policies = BuiltinPolicies()
	}
	byName := make(map[string]Policy, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		byName[strings.ToLower(p.Name)] = p
	}
	def := strings.ToLower(strings.TrimSpace(cfg.DefaultPolicy))
	if def == "" {
		def = PolicyStandard
	}
	if _, ok := byName[def]; !ok {
		return nil, invalid("default_policy", "unknown policy %q", cfg.DefaultPolicy)
	}
	timeout := cfg.InferenceTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Scorer{
		analyzer:      analyzer,
		policies:      byName,
		defaultPolicy: def,
		timeout:       timeout,
		now:           time.Now,
		logger:        logger.Named("scoring"),
	}, nil
}

// Policy 按名称查找方案，空名称返回默认方案。
func (s *Scorer) Policy(name string) (Policy, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = s.defaultPolicy
	}
	p, ok := s.policies[key]
	if !ok {
		return Policy{}, invalid("scoring_policy", "unknown policy %q", name)
	}
	return p, nil
}

// Score 计算简历分数。text 为空时返回 ErrExtractionFailed，配置不合法时返回 ErrInvalidProfile。
// clf 可为 nil；推理失败或超时时分类器得分为 0。
func (s *Scorer) Score(ctx context.Context, text string, job model.JobProfile, clf Predictor) (Breakdown, error) {
	if strings.TrimSpace(text) == "" {
		return Breakdown{}, &extractor.ExtractionError{Reason: "resume text is empty"}
	}
	if err := ValidateProfile(job); err != nil {
		return Breakdown{}, err
	}
	policy, err := s.Policy(job.ScoringPolicy)
	if err != nil {
		return Breakdown{}, err
	}

	b := Breakdown{Policy: policy.Name}
	matcher := newTermMatcher(s.analyzer, text, policy.FuzzyThreshold)

	matched, missing := matcher.matchAll(job.RequiredSkills)
	b.MatchedSkills, b.MissingSkills = matched, missing
	b.Skills = component(scoreMatch(policy.Skills, len(matched), len(matched)+len(missing)), policy.Skills.Max)

	kwMatched, kwMissing := matcher.matchAll(job.RequiredKeywords)
	b.MatchedKeywords = kwMatched
	b.Keywords = component(scoreMatch(policy.Keywords, len(kwMatched), len(kwMatched)+len(kwMissing)), policy.Keywords.Max)

	b.ExperienceYears, b.ExperienceSource = ExtractExperience(text, s.now())
	b.Experience = component(
		scoreExperience(policy.Experience, b.ExperienceYears, job.MinExperienceYears, job.MaxExperienceYears),
		policy.Experience.Max,
	)

	b.Sections = DetectSections(text)
	b.ContactFound = HasContact(text)
	b.Structure = component(scoreStructure(policy.Structure, len(b.Sections), b.ContactFound), policy.Structure.Max)

	var level float64
	b.EducationTier, level = DetectEducation(text)
	b.Education = component(scoreEducation(policy.EducationMax, level), policy.EducationMax)

	b.Classifier = Component{Max: policy.ClassifierMax}
	if clf != nil && policy.ClassifierMax > 0 {
		prob, err := s.predict(ctx, clf, text)
		if err != nil {
			s.logger.Debug("classifier inference failed", zap.Error(err))
		} else {
			b.ClassifierProbability = round2(prob)
			b.ClassifierVersion = clf.Version()
			b.Classifier = component(prob*policy.ClassifierMax, policy.ClassifierMax)
		}
	}

	if policy.Normalize {
		normalize(&b, policy.total())
	}
	b.Total = math.Min(100, b.Sum())
	return b, nil
}

func (s *Scorer) predict(ctx context.Context, clf Predictor, text string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		prob float64
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("classifier panic: %v", r)}
			}
		}()
		p, err := clf.Predict(text)
		done <- result{prob: p, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("classifier inference: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return 0, res.err
		}
		if math.IsNaN(res.prob) || res.prob < 0 || res.prob > 1 {
			return 0, fmt.Errorf("classifier returned probability %v", res.prob)
		}
		return res.prob, nil
	}
}

func component(score, max float64) Component {
	return Component{Score: round2(clamp(score, max)), Max: max}
}

// normalize 按满分之和把各项缩放到 100 分制。
func normalize(b *Breakdown, total float64) {
	if total <= 0 || total == 100 {
		return
	}
	scale := 100 / total
	for _, c := range []*Component{&b.Skills, &b.Keywords, &b.Experience, &b.Structure, &b.Education, &b.Classifier} {
		c.Max = round2(c.Max * scale)
		c.Score = round2(math.Min(c.Score*scale, c.Max))
	}
}
