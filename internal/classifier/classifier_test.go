package classifier

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-screener/internal/model"
	"resume-screener/internal/textproc"
)

var trainingCorpus = []Example{
	{Text: "Senior Go engineer, Kubernetes, distributed systems, gRPC services", Label: LabelGood},
	{Text: "Backend developer building Go microservices and Kafka pipelines", Label: LabelGood},
	{Text: "Site reliability engineer, Kubernetes operators, Terraform", Label: LabelGood},
	{Text: "Retail cashier, customer greeting, shelf stocking", Label: LabelBad},
	{Text: "Restaurant server handling orders and cash register", Label: LabelBad},
	{Text: "Warehouse picker, forklift, inventory counts", Label: LabelBad},
}

func TestTrainRequiresTwoLabels(t *testing.T) {
	t.Parallel()

	tr := NewTrainer(textproc.MustDefault(), 0)

	_, err := tr.Train([]Example{{Text: "Go engineer", Label: LabelGood}})
	require.ErrorIs(t, err, ErrInsufficientTrainingData)

	_, err = tr.Train([]Example{
		{Text: "Go engineer", Label: LabelGood},
		{Text: "Rust engineer", Label: LabelGood},
	})
	require.ErrorIs(t, err, ErrInsufficientTrainingData)

	_, err = tr.Train([]Example{
		{Text: "Go engineer", Label: LabelGood},
		{Text: "   ", Label: LabelBad},
	})
	require.ErrorIs(t, err, ErrInsufficientTrainingData)

	m, err := tr.Train([]Example{
		{Text: "Go engineer", Label: LabelGood},
		{Text: "Retail cashier", Label: LabelBad},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, m.CorpusSize())
	assert.NotEmpty(t, m.Version())
}

func TestPredictSeparatesClasses(t *testing.T) {
	t.Parallel()

	m, err := NewTrainer(textproc.MustDefault(), 0).Train(trainingCorpus)
	require.NoError(t, err)

	good, err := m.Predict("Go engineer running Kubernetes and Kafka")
	require.NoError(t, err)
	bad, err := m.Predict("cashier stocking shelves in retail")
	require.NoError(t, err)

	assert.Greater(t, good, 0.5)
	assert.Less(t, bad, 0.5)
	assert.GreaterOrEqual(t, bad, 0.0)
	assert.LessOrEqual(t, good, 1.0)
}

func TestModelRoundTrip(t *testing.T) {
	t.Parallel()

	an := textproc.MustDefault()
	m, err := NewTrainer(an, 0).Train([]Example{
		{Text: "Go engineer with Kubernetes", Label: LabelGood},
		{Text: "Retail cashier", Label: LabelBad},
	})
	require.NoError(t, err)

	blob, err := m.MarshalBinary()
	require.NoError(t, err)
	restored, err := Unmarshal(blob, an)
	require.NoError(t, err)

	input := "Kubernetes engineer who also worked as a cashier"
	want, err := m.Predict(input)
	require.NoError(t, err)
	got, err := restored.Predict(input)
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, m.Version(), restored.Version())
	assert.Equal(t, m.CorpusSize(), restored.CorpusSize())
	assert.True(t, m.TrainedAt().Equal(restored.TrainedAt()))
}

func TestUnmarshalCorruptBlob(t *testing.T) {
	t.Parallel()

	_, err := Unmarshal([]byte("not a model"), textproc.MustDefault())
	require.ErrorIs(t, err, ErrClassifierUnavailable)
}

func TestVocabularyIsCapped(t *testing.T) {
	t.Parallel()

	docs := [][]string{{"go", "go", "rust", "java"}, {"go", "rust", "zig"}}
	vocab := buildVocabulary(docs, 2)
	assert.Len(t, vocab, 2)
	assert.Contains(t, vocab, "go")
	assert.Contains(t, vocab, "rust")

	assert.Equal(t,
		[]string{"senior", "go", "engineer", "senior go", "go engineer"},
		features(textproc.MustDefault(), "a Senior Go engineer"))
}

func TestStoreGetPutAndFallback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	an := textproc.MustDefault()
	repo := newMemRepo()
	store := NewStore(repo, an, nil)

	_, err := store.Get(ctx, GlobalScope)
	require.ErrorIs(t, err, ErrClassifierUnavailable)
	_, err = store.ForJob(ctx, 7)
	require.ErrorIs(t, err, ErrClassifierUnavailable)

	m, err := NewTrainer(an, 0).Train(trainingCorpus)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, GlobalScope, m))

	got, err := store.ForJob(ctx, 7)
	require.NoError(t, err)
	assert.Same(t, m, got)

	// 新实例从持久化数据加载
	fresh := NewStore(repo, an, nil)
	loaded, err := fresh.Get(ctx, GlobalScope)
	require.NoError(t, err)
	assert.Equal(t, m.Version(), loaded.Version())

	input := "Go engineer"
	want, _ := m.Predict(input)
	have, _ := loaded.Predict(input)
	assert.Equal(t, want, have)
}

func TestStoreSeesModelsSavedByAnotherStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	an := textproc.MustDefault()
	repo := newMemRepo()
	serving := NewStore(repo, an, nil)
	cli := NewStore(repo, an, nil)
	tr := NewTrainer(an, 0)

	first, err := tr.Train(trainingCorpus)
	require.NoError(t, err)
	require.NoError(t, serving.Put(ctx, GlobalScope, first))
	got, err := serving.Get(ctx, GlobalScope)
	require.NoError(t, err)
	assert.Same(t, first, got)

	second, err := tr.Train(trainingCorpus[1:5])
	require.NoError(t, err)
	require.NotEqual(t, first.Version(), second.Version())
	require.NoError(t, cli.Put(ctx, GlobalScope, second))

	got, err = serving.Get(ctx, GlobalScope)
	require.NoError(t, err)
	assert.Equal(t, second.Version(), got.Version())

	// 未变化时直接复用缓存
	again, err := serving.Get(ctx, GlobalScope)
	require.NoError(t, err)
	assert.Same(t, got, again)

	repo.mu.Lock()
	delete(repo.arts, GlobalScope)
	repo.mu.Unlock()
	_, err = serving.Get(ctx, GlobalScope)
	require.ErrorIs(t, err, ErrClassifierUnavailable)
}

func TestStoreUntrainedAndCorruptArtifacts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newMemRepo()
	repo.arts[JobScope(1)] = model.ClassifierArtifact{Scope: JobScope(1), Trained: false}
	repo.arts[JobScope(2)] = model.ClassifierArtifact{Scope: JobScope(2), Trained: true, Blob: []byte("garbage")}
	store := NewStore(repo, textproc.MustDefault(), nil)

	_, err := store.Get(ctx, JobScope(1))
	require.ErrorIs(t, err, ErrClassifierUnavailable)
	_, err = store.Get(ctx, JobScope(2))
	require.ErrorIs(t, err, ErrClassifierUnavailable)
}

func TestStoreConcurrentReadersDuringRetrain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	an := textproc.MustDefault()
	store := NewStore(newMemRepo(), an, nil)
	tr := NewTrainer(an, 0)

	first, err := tr.Train(trainingCorpus)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, GlobalScope, first))
	second, err := tr.Train(trainingCorpus[1:5])
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m, err := store.Get(ctx, GlobalScope)
				if err != nil || (m.Version() != first.Version() && m.Version() != second.Version()) {
					t.Errorf("unexpected model %p: %v", m, err)
					return
				}
			}
		}()
	}
	require.NoError(t, store.Put(ctx, GlobalScope, second))
	wg.Wait()

	got, err := store.Get(ctx, GlobalScope)
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestAssembleCorpus(t *testing.T) {
	t.Parallel()

	jobID := uint(1)
	src := &stubCorpus{
		manual: []model.TrainingResume{
			{Text: "curated good", Label: "Good"},
			{Text: "curated bad", Label: "bad"},
			{Text: "", Label: "good"},
			{Text: "unlabeled", Label: "maybe"},
		},
		applicants: []model.Applicant{
			{JobID: 1, ResumeText: "strong", Score: 85},
			{JobID: 1, ResumeText: "borderline", Score: 60},
			{JobID: 1, ResumeText: "unscored", Score: 0},
			{JobID: 1, ResumeText: "", Score: 90},
			{JobID: 9, ResumeText: "orphan", Score: 72},
		},
		jobs: []model.JobProfile{{ID: 1, PassScore: 65}},
	}

	corpus, err := AssembleCorpus(context.Background(), src, &jobID)
	require.NoError(t, err)
	assert.Equal(t, []Example{
		{Text: "curated good", Label: LabelGood},
		{Text: "curated bad", Label: LabelBad},
		{Text: "strong", Label: LabelGood},
		{Text: "borderline", Label: LabelBad},
		{Text: "orphan", Label: LabelGood},
	}, corpus)
	assert.Equal(t, &jobID, src.lastJobID)
}

// --- stubs ---

type memRepo struct {
	mu   sync.Mutex
	arts map[string]model.ClassifierArtifact
}

func newMemRepo() *memRepo {
	return &memRepo{arts: map[string]model.ClassifierArtifact{}}
}

func (r *memRepo) GetClassifier(_ context.Context, scope string) (*model.ClassifierArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	art, ok := r.arts[scope]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &art, nil
}

func (r *memRepo) ClassifierVersion(_ context.Context, scope string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	art, ok := r.arts[scope]
	if !ok {
		return "", sql.ErrNoRows
	}
	return art.Version, nil
}

func (r *memRepo) SaveClassifier(_ context.Context, art *model.ClassifierArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *art
	cp.UpdatedAt = time.Now()
	r.arts[art.Scope] = cp
	return nil
}

type stubCorpus struct {
	manual     []model.TrainingResume
	applicants []model.Applicant
	jobs       []model.JobProfile
	lastJobID  *uint
}

func (s *stubCorpus) ListTrainingResumes(_ context.Context, jobID *uint) ([]model.TrainingResume, error) {
	s.lastJobID = jobID
	return s.manual, nil
}

func (s *stubCorpus) ListTrainableApplicants(context.Context, *uint) ([]model.Applicant, error) {
	return s.applicants, nil
}

func (s *stubCorpus) ListJobs(context.Context) ([]model.JobProfile, error) {
	return s.jobs, nil
}
