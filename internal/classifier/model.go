// Package classifier 训练并保存“优质简历”二分类模型。
package classifier

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jbrukh/bayesian"

	"resume-screener/internal/textproc"
)

// Label 训练标签。
type Label string

const (
	LabelGood Label = "good"
	LabelBad  Label = "bad"
)

// DefaultMaxFeatures 词表上限。
const DefaultMaxFeatures = 5000

var classes = []bayesian.Class{bayesian.Class(LabelGood), bayesian.Class(LabelBad)}

// Example 一条训练样本。
type Example struct {
	Text  string
	Label Label
}

// Model 是训练好的分类器，创建后只读。
type Model struct {
	clf        *bayesian.Classifier
	vocab      map[string]struct{}
	analyzer   *textproc.Analyzer
	version    string
	corpusSize int
	trainedAt  time.Time
}

// Trainer 负责从语料全量拟合模型。
type Trainer struct {
	analyzer    *textproc.Analyzer
	maxFeatures int
	now         func() time.Time
}

// NewTrainer 创建 Trainer，maxFeatures <= 0 时取 5000。
func NewTrainer(analyzer *textproc.Analyzer, maxFeatures int) *Trainer {
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}
	return &Trainer{analyzer: analyzer, maxFeatures: maxFeatures, now: time.Now}
}

// Train 使用 unigram + bigram 特征训练 TF-IDF 朴素贝叶斯模型。
func (t *Trainer) Train(corpus []Example) (*Model, error) {
	docs := make([][]string, 0, len(corpus))
	labels := make([]Label, 0, len(corpus))
	seen := map[Label]int{}
	for _, ex := range corpus {
		if strings.TrimSpace(ex.Text) == "" {
			continue
		}
		if ex.Label != LabelGood && ex.Label != LabelBad {
			return nil, fmt.Errorf("train classifier: unknown label %q", ex.Label)
		}
		docs = append(docs, features(t.analyzer, ex.Text))
		labels = append(labels, ex.Label)
		seen[ex.Label]++
	}
	if len(docs) < 2 || len(seen) < 2 {
		return nil, fmt.Errorf("%w: %d examples, %d good, %d bad",
			ErrInsufficientTrainingData, len(docs), seen[LabelGood], seen[LabelBad])
	}

	vocab := buildVocabulary(docs, t.maxFeatures)
	clf := bayesian.NewClassifierTfIdf(classes...)
	for i, doc := range docs {
		clf.Learn(filter(doc, vocab), bayesian.Class(labels[i]))
	}
	clf.ConvertTermsFreqToTfIdf()

	return &Model{
		clf:        clf,
		vocab:      vocab,
		analyzer:   t.analyzer,
		version:    uuid.NewString(),
		corpusSize: len(docs),
		trainedAt:  t.now().UTC(),
	}, nil
}

// Predict 返回正类（good）概率，由对数得分做 softmax 得到。
func (m *Model) Predict(text string) (prob float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: predict: %v", ErrClassifierUnavailable, r)
		}
	}()
	scores, _, _ := m.clf.LogScores(filter(features(m.analyzer, text), m.vocab))
	if len(scores) != len(classes) {
		return 0, fmt.Errorf("%w: unexpected score count %d", ErrClassifierUnavailable, len(scores))
	}
	top := math.Max(scores[0], scores[1])
	good := math.Exp(scores[0] - top)
	bad := math.Exp(scores[1] - top)
	return good / (good + bad), nil
}

func (m *Model) Version() string      { return m.version }
func (m *Model) CorpusSize() int      { return m.corpusSize }
func (m *Model) TrainedAt() time.Time { return m.trainedAt }

type envelope struct {
	Version    string
	CorpusSize int
	TrainedAt  time.Time
	Vocabulary []string
	Classifier []byte
}

// MarshalBinary 序列化为不透明 blob。
func (m *Model) MarshalBinary() ([]byte, error) {
	var clf bytes.Buffer
	if err := m.clf.WriteTo(&clf); err != nil {
		return nil, fmt.Errorf("encode classifier: %w", err)
	}
	vocab := make([]string, 0, len(m.vocab))
	for term := range m.vocab {
		vocab = append(vocab, term)
	}
	sort.Strings(vocab)

	var buf bytes.Buffer
	env := envelope{
		Version:    m.version,
		CorpusSize: m.corpusSize,
		TrainedAt:  m.trainedAt,
		Vocabulary: vocab,
		Classifier: clf.Bytes(),
	}
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal 还原模型，blob 损坏时返回 ErrClassifierUnavailable。
func Unmarshal(blob []byte, analyzer *textproc.Analyzer) (*Model, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: decode model: %v", ErrClassifierUnavailable, err)
	}
	clf, err := bayesian.NewClassifierFromReader(bytes.NewReader(env.Classifier))
	if err != nil {
		return nil, fmt.Errorf("%w: decode classifier: %v", ErrClassifierUnavailable, err)
	}
	if len(clf.Classes) != len(classes) {
		return nil, fmt.Errorf("%w: unexpected classes %v", ErrClassifierUnavailable, clf.Classes)
	}
	vocab := make(map[string]struct{}, len(env.Vocabulary))
	for _, term := range env.Vocabulary {
		vocab[term] = struct{}{}
	}
	return &Model{
		clf:        clf,
		vocab:      vocab,
		analyzer:   analyzer,
		version:    env.Version,
		corpusSize: env.CorpusSize,
		trainedAt:  env.TrainedAt,
	}, nil
}

// features 返回去停用词后的 unigram 与相邻 bigram。
func features(a *textproc.Analyzer, text string) []string {
	terms := a.Terms(text)
	out := make([]string, 0, len(terms)*2)
	out = append(out, terms...)
	for i := 1; i < len(terms); i++ {
		out = append(out, terms[i-1]+" "+terms[i])
	}
	return out
}

// buildVocabulary 按语料总词频取前 max 个特征，词频相同时按字典序。
func buildVocabulary(docs [][]string, max int) map[string]struct{} {
	freq := map[string]int{}
	for _, doc := range docs {
		for _, term := range doc {
			freq[term]++
		}
	}
	terms := make([]string, 0, len(freq))
	for term := range freq {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > max {
		terms = terms[:max]
	}
	vocab := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		vocab[term] = struct{}{}
	}
	return vocab
}

func filter(doc []string, vocab map[string]struct{}) []string {
	out := make([]string, 0, len(doc))
	for _, term := range doc {
		if _, ok := vocab[term]; ok {
			out = append(out, term)
		}
	}
	return out
}
