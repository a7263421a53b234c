package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-screener/internal/model"
	"resume-screener/internal/screening"
)

func TestSchedulerRunOnceDispatchesByName(t *testing.T) {
	t.Parallel()

	sw := &stubSweeper{}
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	sched := NewScheduler(sw, Config{Timeout: "5s"}, nil)
	sched.now = func() time.Time { return now }
	ctx := context.Background()

	report, err := sched.RunOnce(ctx, JobScreen)
	require.NoError(t, err)
	assert.Equal(t, "screen", report.Name)
	assert.EqualValues(t, 1, sw.screens.Load())

	_, err = sched.RunOnce(ctx, JobRetrain)
	require.NoError(t, err)
	assert.EqualValues(t, 1, sw.retrains.Load())

	_, err = sched.RunOnce(ctx, JobSummaryWeekly)
	require.NoError(t, err)
	_, err = sched.RunOnce(ctx, JobSummaryMonthly)
	require.NoError(t, err)
	assert.Equal(t, []model.SummaryFrequency{model.FrequencyWeekly, model.FrequencyMonthly}, sw.frequencies())
	assert.True(t, sw.lastNow().Equal(now))

	_, err = sched.RunOnce(ctx, "reindex")
	assert.ErrorIs(t, err, ErrUnknownJob)

	assert.Equal(t, []string{"retrain", "screen", "summary-daily", "summary-monthly", "summary-weekly"}, sched.Names())
}

func TestSchedulerRunOnceWrapsErrors(t *testing.T) {
	t.Parallel()

	sw := &stubSweeper{err: errors.New("db down")}
	sched := NewScheduler(sw, Config{}, nil)

	_, err := sched.RunOnce(context.Background(), JobScreen)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run screen")
}

func TestSchedulerRunOnceAppliesTimeout(t *testing.T) {
	t.Parallel()

	sw := &stubSweeper{}
	sched := NewScheduler(sw, Config{Timeout: "2s"}, nil)

	_, err := sched.RunOnce(context.Background(), JobRetrain)
	require.NoError(t, err)
	deadline, ok := sw.lastDeadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(2*time.Second), deadline, time.Second)
}

func TestSchedulerNoOverlap(t *testing.T) {
	t.Parallel()

	tickCh := make(chan time.Time, 4)
	st := &stubTicker{ch: tickCh}
	sw := &stubSweeper{block: make(chan struct{})}

	sched := NewScheduler(sw, Config{
		Screen:         "100ms",
		Retrain:        "off",
		SummaryDaily:   "off",
		SummaryWeekly:  "off",
		SummaryMonthly: "off",
		Timeout:        "5s",
	}, nil)
	sched.newTicker = func(time.Duration) ticker { return st }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Start(ctx)
	}()

	// 第一次触发阻塞在 sweep 中。
	tickCh <- time.Now()
	time.Sleep(20 * time.Millisecond)

	_, err := sched.RunOnce(ctx, JobScreen)
	assert.ErrorIs(t, err, ErrJobRunning)

	// 运行期间的触发被合并。
	tickCh <- time.Now()
	close(sw.block)

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	assert.EqualValues(t, 1, sw.screens.Load())
	assert.Zero(t, sw.retrains.Load())
}

func TestSchedulerKeepsRunningAfterFailure(t *testing.T) {
	t.Parallel()

	tickCh := make(chan time.Time, 4)
	sw := &stubSweeper{err: errors.New("boom")}
	sched := NewScheduler(sw, Config{Screen: "1m", Retrain: "off", SummaryDaily: "off", SummaryWeekly: "off", SummaryMonthly: "off"}, nil)
	sched.newTicker = func(time.Duration) ticker { return &stubTicker{ch: tickCh} }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Start(ctx) }()

	tickCh <- time.Now()
	time.Sleep(20 * time.Millisecond)
	tickCh <- time.Now()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.EqualValues(t, 2, sw.screens.Load())
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	s, ok := parseSchedule("10m")
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, s.interval)
	assert.Nil(t, s.cron)

	s, ok = parseSchedule("0 8 * * 1")
	require.True(t, ok)
	require.NotNil(t, s.cron)

	for _, bad := range []string{"", "-5m", "every day", "61 * * * *", "* * * *", "5-2 * * * *", "*/0 * * * *"} {
		_, ok := parseSchedule(bad)
		assert.False(t, ok, bad)
	}
}

func TestNewSchedulerFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	sched := NewScheduler(&stubSweeper{}, Config{Screen: "whenever", Retrain: "15m"}, nil)
	assert.Equal(t, 10*time.Minute, sched.byName[JobScreen].interval)
	assert.Equal(t, 15*time.Minute, sched.byName[JobRetrain].interval)
	assert.NotNil(t, sched.byName[JobSummaryDaily].cron)
	assert.Equal(t, 30*time.Second, sched.timeout)
}

func TestCronNext(t *testing.T) {
	t.Parallel()

	// 2026-10-19 为周一。
	from := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	cases := []struct {
		spec string
		want time.Time
	}{
		{"0 8 * * *", time.Date(2026, 10, 20, 8, 0, 0, 0, time.UTC)},
		{"0 8 * * 1", time.Date(2026, 10, 26, 8, 0, 0, 0, time.UTC)},
		{"0 8 1 * *", time.Date(2026, 11, 1, 8, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 10, 19, 9, 45, 0, 0, time.UTC)},
		{"0 9-17/4 * * 1-5", time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)},
		{"30 9,18 * * *", time.Date(2026, 10, 19, 18, 30, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		c, err := parseCronSpec(tc.spec)
		require.NoError(t, err, tc.spec)
		got, err := c.next(from)
		require.NoError(t, err, tc.spec)
		assert.Equal(t, tc.want, got, tc.spec)
	}

	c, err := parseCronSpec("0 0 31 2 *")
	require.NoError(t, err)
	_, err = c.next(from)
	assert.Error(t, err)
}

// --- stubs ---

type stubSweeper struct {
	screens  atomic.Int32
	retrains atomic.Int32
	block    chan struct{}
	err      error

	mu       sync.Mutex
	freqs    []model.SummaryFrequency
	now      time.Time
	deadline time.Time
	hasDL    bool
}

func (s *stubSweeper) AutoScreen(ctx context.Context) (screening.SweepReport, error) {
	s.screens.Add(1)
	if s.block != nil {
		<-s.block
	}
	return screening.SweepReport{Name: "screen"}, s.err
}

func (s *stubSweeper) AutoRetrain(ctx context.Context) (screening.SweepReport, error) {
	s.retrains.Add(1)
	s.mu.Lock()
	s.deadline, s.hasDL = ctx.Deadline()
	s.mu.Unlock()
	return screening.SweepReport{Name: "retrain"}, s.err
}

func (s *stubSweeper) SendSummaries(_ context.Context, freq model.SummaryFrequency, now time.Time) (screening.SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freqs = append(s.freqs, freq)
	s.now = now
	return screening.SweepReport{Name: "summary-" + string(freq)}, s.err
}

func (s *stubSweeper) frequencies() []model.SummaryFrequency {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.SummaryFrequency(nil), s.freqs...)
}

func (s *stubSweeper) lastNow() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *stubSweeper) lastDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline, s.hasDL
}

type stubTicker struct {
	ch chan time.Time
}

func (s *stubTicker) C() <-chan time.Time { return s.ch }
func (s *stubTicker) Stop()               {}
