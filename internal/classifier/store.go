package classifier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"resume-screener/internal/model"
	"resume-screener/internal/textproc"
)

// GlobalScope 为全局分类器的作用域。
const GlobalScope = "global"

// JobScope 返回岗位分类器的作用域。
func JobScope(jobID uint) string {
	return fmt.Sprintf("job:%d", jobID)
}

// Repository 持久化分类器。未找到时返回 sql.ErrNoRows。
type Repository interface {
	GetClassifier(ctx context.Context, scope string) (*model.ClassifierArtifact, error)
	ClassifierVersion(ctx context.Context, scope string) (string, error)
	SaveClassifier(ctx context.Context, art *model.ClassifierArtifact) error
}

// Store 在存储之上维护按作用域的内存缓存，重训时整体原子替换。
// 每次读取先比对持久化版本，其他进程写入的新模型会被重新加载。
type Store struct {
	repo     Repository
	analyzer *textproc.Analyzer
	logger   *zap.Logger

	mu    sync.Mutex
	slots map[string]*atomic.Pointer[Model]
}

// NewStore 创建 Store。
func NewStore(repo Repository, analyzer *textproc.Analyzer, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		repo:     repo,
		analyzer: analyzer,
		logger:   logger.Named("classifier"),
		slots:    make(map[string]*atomic.Pointer[Model]),
	}
}

func (s *Store) slot(scope string) *atomic.Pointer[Model] {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.slots[scope]
	if !ok {
		p = &atomic.Pointer[Model]{}
		s.slots[scope] = p
	}
	return p
}

// Get 返回作用域内最新持久化的模型，不存在、未训练或损坏时返回 ErrClassifierUnavailable。
func (s *Store) Get(ctx context.Context, scope string) (*Model, error) {
	p := s.slot(scope)
	cached := p.Load()
	if cached != nil {
		version, err := s.repo.ClassifierVersion(ctx, scope)
		switch {
		case err == nil && version == cached.Version():
			return cached, nil
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			s.logger.Warn("check classifier version, using cached model",
				zap.String("scope", scope), zap.String("version", cached.Version()), zap.Error(err))
			return cached, nil
		}
	}

	m, err := s.load(ctx, scope)
	if err != nil {
		if cached != nil && errors.Is(err, ErrClassifierUnavailable) {
			p.CompareAndSwap(cached, nil)
		}
		return nil, err
	}
	if cached != nil {
		s.logger.Info("classifier reloaded",
			zap.String("scope", scope), zap.String("from", cached.Version()), zap.String("to", m.Version()))
	}
	// 并发加载时以先写入者为准。
	if p.CompareAndSwap(cached, m) {
		return m, nil
	}
	if cur := p.Load(); cur != nil {
		return cur, nil
	}
	return m, nil
}

func (s *Store) load(ctx context.Context, scope string) (*Model, error) {
	art, err := s.repo.GetClassifier(ctx, scope)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no classifier for %s", ErrClassifierUnavailable, scope)
		}
		return nil, fmt.Errorf("load classifier %s: %w", scope, err)
	}
	if !art.Trained || len(art.Blob) == 0 {
		return nil, fmt.Errorf("%w: classifier %s is not trained", ErrClassifierUnavailable, scope)
	}
	m, err := Unmarshal(art.Blob, s.analyzer)
	if err != nil {
		s.logger.Warn("classifier artifact is corrupt", zap.String("scope", scope), zap.Error(err))
		return nil, err
	}
	return m, nil
}

// ForJob 优先返回岗位模型，不可用时回退到全局模型。
func (s *Store) ForJob(ctx context.Context, jobID uint) (*Model, error) {
	m, err := s.Get(ctx, JobScope(jobID))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, ErrClassifierUnavailable) {
		return nil, err
	}
	return s.Get(ctx, GlobalScope)
}

// Put 持久化新模型后替换缓存。
func (s *Store) Put(ctx context.Context, scope string, m *Model) error {
	blob, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	art := &model.ClassifierArtifact{
		Scope:      scope,
		Version:    m.Version(),
		Blob:       blob,
		CorpusSize: m.CorpusSize(),
		Trained:    true,
		TrainedAt:  m.TrainedAt(),
	}
	if err := s.repo.SaveClassifier(ctx, art); err != nil {
		return fmt.Errorf("save classifier %s: %w", scope, err)
	}
	s.slot(scope).Store(m)
	s.logger.Info("classifier replaced",
		zap.String("scope", scope),
		zap.String("version", m.Version()),
		zap.Int("corpus_size", m.CorpusSize()),
	)
	return nil
}
