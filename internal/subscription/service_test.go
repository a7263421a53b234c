package subscription

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-screener/internal/model"
)

func TestServiceValidatesAndCreatesSubscription(t *testing.T) {
	t.Parallel()

	store := &stubStore{jobs: map[uint]bool{7: true}}
	svc := NewService(store, Config{AllowedChannels: []string{"email"}})

	jobID := uint(7)
	sub, err := svc.Create(context.Background(), Request{
		Email:   "HR Team <hr@example.com>",
		Channel: "EMAIL",
		JobID:   &jobID,
		Kinds:   []string{"Summary", "high_score", " "},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, uint(1), sub.ID)
	assert.Equal(t, "hr@example.com", sub.Email)
	assert.Equal(t, "email", sub.Channel)
	assert.Equal(t, &jobID, sub.JobID)
	assert.True(t, sub.Wants(model.KindSummary))
	assert.True(t, sub.Wants(model.KindHighScore))
	assert.False(t, sub.Wants(model.KindRejectionCopy))

	all, err := svc.Create(context.Background(), Request{Email: "all@example.com"})
	require.NoError(t, err)
	assert.Nil(t, all.JobID)
	assert.True(t, all.Wants(model.KindRejectionCopy))

	subs, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestServiceRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	svc := NewService(store, Config{})

	cases := []Request{
		{Email: "", Channel: "email"},
		{Email: "bad", Channel: "email"},
		{Email: "user@example.com", Channel: "sms"},
		{Email: "user@example.com", Channel: "email", Kinds: []string{"unknown"}},
	}
	for i, req := range cases {
		_, err := svc.Create(context.Background(), req)
		require.Error(t, err, "case %d", i)
		assert.ErrorIs(t, err, ErrInvalidRequest, "case %d", i)

		var verr *ValidationError
		assert.True(t, errors.As(err, &verr), "case %d", i)
	}
	assert.Zero(t, store.calls)
}

func TestServiceRejectsUndeliverableChannels(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	svc := NewService(store, Config{AllowedChannels: []string{"email", "queue", "Slack"}})

	for _, ch := range []string{"queue", "slack"} {
		_, err := svc.Create(context.Background(), Request{Email: "user@example.com", Channel: ch})
		require.ErrorIs(t, err, ErrInvalidRequest, ch)
	}
	sub, err := svc.Create(context.Background(), Request{Email: "user@example.com", Channel: "Email"})
	require.NoError(t, err)
	assert.Equal(t, model.ChannelEmail, sub.Channel)
	assert.Equal(t, 1, store.calls)
}

func TestServiceRejectsUnknownJob(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	svc := NewService(store, Config{})

	jobID := uint(42)
	_, err := svc.Create(context.Background(), Request{Email: "user@example.com", JobID: &jobID})
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.Zero(t, store.calls)
}

func TestServicePropagatesStoreError(t *testing.T) {
	t.Parallel()

	store := &stubStore{err: errors.New("boom")}
	svc := NewService(store, Config{AllowedChannels: []string{"email"}})

	_, err := svc.Create(context.Background(), Request{Email: "user@example.com", Channel: "email"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidRequest)
}

// --- stubs ---

type stubStore struct {
	calls int
	err   error
	jobs  map[uint]bool
	saved []model.Subscription
}

func (s *stubStore) GetJob(_ context.Context, id uint) (*model.JobProfile, error) {
	if !s.jobs[id] {
		return nil, sql.ErrNoRows
	}
	return &model.JobProfile{ID: id}, nil
}

func (s *stubStore) CreateSubscription(_ context.Context, sub *model.Subscription) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	sub.ID = uint(len(s.saved) + 1)
	s.saved = append(s.saved, *sub)
	return nil
}

func (s *stubStore) ListSubscriptions(context.Context) ([]model.Subscription, error) {
	return s.saved, nil
}
