package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"resume-screener/internal/logger"
	"resume-screener/internal/model"
	"resume-screener/internal/screening"
)

// 任务名。
const (
	JobScreen         = "screen"
	JobRetrain        = "retrain"
	JobSummaryDaily   = "summary-daily"
	JobSummaryWeekly  = "summary-weekly"
	JobSummaryMonthly = "summary-monthly"
)

var (
	// ErrUnknownJob 表示任务名不存在。
	ErrUnknownJob = errors.New("unknown scheduled job")
	// ErrJobRunning 表示同名任务仍在执行。
	ErrJobRunning = errors.New("scheduled job already running")
)

// Config 用于调度配置。每项可以是时长（如 10m）或 5 段 cron 表达式，off 表示不自动触发。
type Config struct {
	Screen         string `mapstructure:"screen" yaml:"screen" json:"screen"`
	Retrain        string `mapstructure:"retrain" yaml:"retrain" json:"retrain"`
	SummaryDaily   string `mapstructure:"summary_daily" yaml:"summary_daily" json:"summary_daily"`
	SummaryWeekly  string `mapstructure:"summary_weekly" yaml:"summary_weekly" json:"summary_weekly"`
	SummaryMonthly string `mapstructure:"summary_monthly" yaml:"summary_monthly" json:"summary_monthly"`
	Timeout        string `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// Sweeper 抽象各批处理，便于测试替换。
type Sweeper interface {
	AutoScreen(ctx context.Context) (screening.SweepReport, error)
	AutoRetrain(ctx context.Context) (screening.SweepReport, error)
	SendSummaries(ctx context.Context, freq model.SummaryFrequency, now time.Time) (screening.SweepReport, error)
}

type job struct {
	name     string
	interval time.Duration
	cron     *cronSchedule
	disabled bool
	run      func(ctx context.Context) (screening.SweepReport, error)
	running  atomic.Bool
}

// Scheduler 按各自的周期运行具名批处理，同名任务不会重叠。
type Scheduler struct {
	jobs      []*job
	byName    map[string]*job
	timeout   time.Duration
	newTicker func(time.Duration) ticker
	now       func() time.Time
	logger    *zap.Logger
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

// NewScheduler 创建 Scheduler，无法解析的周期回退到默认值。
func NewScheduler(sw Sweeper, cfg Config, log *zap.Logger) *Scheduler {
	s := &Scheduler{
		byName:    make(map[string]*job),
		timeout:   30 * time.Second,
		newTicker: defaultTicker,
		now:       time.Now,
		logger:    logger.OrNop(log).Named("scheduler"),
	}
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			s.timeout = d
		}
	}

	summary := func(freq model.SummaryFrequency) func(context.Context) (screening.SweepReport, error) {
		return func(ctx context.Context) (screening.SweepReport, error) {
			return sw.SendSummaries(ctx, freq, s.now())
		}
	}
	s.add(JobScreen, cfg.Screen, "10m", sw.AutoScreen)
	s.add(JobRetrain, cfg.Retrain, "1h", sw.AutoRetrain)
	s.add(JobSummaryDaily, cfg.SummaryDaily, "0 8 * * *", summary(model.FrequencyDaily))
	s.add(JobSummaryWeekly, cfg.SummaryWeekly, "0 8 * * 1", summary(model.FrequencyWeekly))
	s.add(JobSummaryMonthly, cfg.SummaryMonthly, "0 8 1 * *", summary(model.FrequencyMonthly))
	return s
}

func (s *Scheduler) add(name, value, fallback string, run func(context.Context) (screening.SweepReport, error)) {
	j := &job{name: name, run: run}
	if strings.EqualFold(strings.TrimSpace(value), "off") {
		j.disabled = true
	} else {
		sched, ok := parseSchedule(value)
		if !ok {
			if strings.TrimSpace(value) != "" {
				s.logger.Warn("invalid schedule, using default",
					zap.String("job", name), zap.String("value", value), zap.String("default", fallback))
			}
			sched, _ = parseSchedule(fallback)
		}
		j.interval, j.cron = sched.interval, sched.cron
	}
	s.jobs = append(s.jobs, j)
	s.byName[name] = j
}

// Names 返回全部任务名。
func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.name)
	}
	sort.Strings(names)
	return names
}

// Start 启动全部任务循环，直到上下文取消。
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.jobs) == 0 {
		return fmt.Errorf("scheduler has no jobs")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		if j.disabled {
			s.logger.Info("job disabled", zap.String("job", j.name))
			continue
		}
		j := j
		if j.cron != nil {
			g.Go(func() error { return s.startCron(ctx, j) })
			continue
		}
		g.Go(func() error { return s.startTicker(ctx, j) })
	}
	return g.Wait()
}

// RunOnce 手动触发一次指定任务。
func (s *Scheduler) RunOnce(ctx context.Context, name string) (screening.SweepReport, error) {
	j, ok := s.byName[name]
	if !ok {
		return screening.SweepReport{}, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return s.runOnce(ctx, j)
}

func (s *Scheduler) runOnce(ctx context.Context, j *job) (screening.SweepReport, error) {
	if j.running.Swap(true) {
		return screening.SweepReport{Name: j.name}, ErrJobRunning
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report, err := j.run(ctx)
	if err != nil {
		return report, fmt.Errorf("run %s: %w", j.name, err)
	}
	return report, nil
}

// tick 执行一次定时触发，错误只记录，不终止循环。
func (s *Scheduler) tick(ctx context.Context, j *job) {
	if _, err := s.runOnce(ctx, j); err != nil {
		if errors.Is(err, ErrJobRunning) {
			s.logger.Debug("previous run still active, skipping", zap.String("job", j.name))
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("scheduled run failed", zap.String("job", j.name), zap.Error(err))
	}
}

func (s *Scheduler) startTicker(ctx context.Context, j *job) error {
	tick := s.newTicker(j.interval)
	defer tick.Stop()
	ch := tick.C()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			s.tick(ctx, j)
		drain:
			for {
				select {
				case <-ch:
					continue
				default:
					break drain
				}
			}
		}
	}
}

func (s *Scheduler) startCron(ctx context.Context, j *job) error {
	for {
		next, err := j.cron.next(s.now())
		if err != nil {
			return fmt.Errorf("compute next %s time: %w", j.name, err)
		}
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.tick(ctx, j)
		}
	}
}

func defaultTicker(d time.Duration) ticker {
	t := time.NewTicker(d)
	return tickerWrapper{t}
}

type tickerWrapper struct {
	*time.Ticker
}

func (t tickerWrapper) C() <-chan time.Time { return t.Ticker.C }
func (t tickerWrapper) Stop()               { t.Ticker.Stop() }

type schedule struct {
	interval time.Duration
	cron     *cronSchedule
}

func parseSchedule(value string) (schedule, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return schedule{}, false
	}
	if d, err := time.ParseDuration(trimmed); err == nil && d > 0 {
		return schedule{interval: d}, true
	}
	cron, err := parseCronSpec(trimmed)
	if err != nil {
		return schedule{}, false
	}
	return schedule{cron: cron}, true
}

type cronSchedule struct {
	minutes map[int]struct{}
	hours   map[int]struct{}
	doms    map[int]struct{}
	months  map[int]struct{}
	dows    map[int]struct{}
}

func parseCronSpec(spec string) (*cronSchedule, error) {
	parts := strings.Fields(spec)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron spec must have 5 fields")
	}

	minutes, err := parseCronField(parts[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("minutes: %w", err)
	}
	hours, err := parseCronField(parts[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("hours: %w", err)
	}
	doms, err := parseCronField(parts[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("day-of-month: %w", err)
	}
	months, err := parseCronField(parts[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("month: %w", err)
	}
	dows, err := parseCronField(parts[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("day-of-week: %w", err)
	}
	return &cronSchedule{minutes: minutes, hours: hours, doms: doms, months: months, dows: dows}, nil
}

// parseCronField 支持 *、*/n、a-b、a-b/n 与逗号列表。
func parseCronField(expr string, min, max int) (map[int]struct{}, error) {
	result := make(map[int]struct{})
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty field")
	}
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, step := min, max, 1
		base := part
		if i := strings.Index(part, "/"); i >= 0 {
			n, err := strconv.Atoi(part[i+1:])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step %s", part)
			}
			step, base = n, part[:i]
		}
		switch {
		case base == "*":
		case strings.Contains(base, "-"):
			a, b, _ := strings.Cut(base, "-")
			var errA, errB error
			lo, errA = strconv.Atoi(a)
			hi, errB = strconv.Atoi(b)
			if errA != nil || errB != nil || lo < min || hi > max || lo > hi {
				return nil, fmt.Errorf("invalid range %s", part)
			}
		default:
			v, err := strconv.Atoi(base)
			if err != nil || v < min || v > max {
				return nil, fmt.Errorf("invalid value %s", part)
			}
			lo, hi = v, v
			if step > 1 {
				hi = max
			}
		}
		for i := lo; i <= hi; i += step {
			result[i] = struct{}{}
		}
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no values parsed")
	}
	return result, nil
}

func (c *cronSchedule) matches(t time.Time) bool {
	if _, ok := c.minutes[t.Minute()]; !ok {
		return false
	}
	if _, ok := c.hours[t.Hour()]; !ok {
		return false
	}
	if _, ok := c.months[int(t.Month())]; !ok {
		return false
	}
	if _, ok := c.doms[t.Day()]; !ok {
		return false
	}
	if _, ok := c.dows[int(t.Weekday())]; !ok {
		return false
	}
	return true
}

func (c *cronSchedule) next(after time.Time) (time.Time, error) {
	start := after.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < 366*24*60; i++ {
		candidate := start.Add(time.Duration(i) * time.Minute)
		if c.matches(candidate) {
			return candidate, nil
		}
	}
	return time.Time{}, fmt.Errorf("no matching time found")
}
