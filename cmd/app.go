package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"resume-screener/internal/catalog"
	"resume-screener/internal/classifier"
	"resume-screener/internal/extractor"
	"resume-screener/internal/notifier"
	"resume-screener/internal/pipeline"
	"resume-screener/internal/scheduler"
	"resume-screener/internal/scoring"
	"resume-screener/internal/screening"
	"resume-screener/internal/storage"
	"resume-screener/internal/subscription"
	"resume-screener/internal/textproc"
)

// sweepScheduler 为 serve 与 sweep 命令所需的调度能力。
type sweepScheduler interface {
	Start(ctx context.Context) error
	RunOnce(ctx context.Context, name string) (screening.SweepReport, error)
	Names() []string
}

type appDeps struct {
	store    *storage.Store
	screener *screening.Service
	engine   *pipeline.Engine
	subs     *subscription.Service
	sched    sweepScheduler
}

type appBuilder func(cfg AppConfig) (appDeps, func(), error)

// newAppBuilder 返回按配置装配全部组件的 builder。
func newAppBuilder(log *zap.Logger) appBuilder {
	return func(cfg AppConfig) (appDeps, func(), error) {
		return buildApp(context.Background(), cfg, log)
	}
}

func buildApp(ctx context.Context, cfg AppConfig, log *zap.Logger) (appDeps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (appDeps, func(), error) {
		cleanup()
		return appDeps{}, func() {}, err
	}

	store, err := storage.Open(cfg.Database)
	if err != nil {
		return fail(fmt.Errorf("init store: %w", err))
	}
	closers = append(closers, func() { _ = store.Close() })

	if cfg.Catalog != "" {
		cat, err := catalog.Load(cfg.Catalog)
		if err != nil {
			return fail(err)
		}
		if _, err := catalog.Seed(ctx, store, cat, log); err != nil {
			return fail(fmt.Errorf("seed catalog: %w", err))
		}
	}

	analyzer, err := textproc.NewAnalyzer(cfg.Stopwords)
	if err != nil {
		return fail(err)
	}
	scorer, err := scoring.NewScorer(analyzer, scoring.Config{
		DefaultPolicy:    cfg.Scoring.DefaultPolicy,
		InferenceTimeout: cfg.Scoring.InferenceTimeout,
	}, log)
	if err != nil {
		return fail(fmt.Errorf("init scorer: %w", err))
	}

	sender, closeSender, err := buildSender(cfg.Mail, log)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeSender)

	dispatcher, err := notifier.NewDispatcher(sender, store, cfg.Mail.DispatcherConfig, log)
	if err != nil {
		return fail(err)
	}

	engine := pipeline.NewEngine(store, nil, dispatcher, cfg.Pipeline, log)
	screener, err := screening.New(store, screening.Deps{
		Extractor:   extractor.New(cfg.Extractor, log),
		Scorer:      scorer,
		Classifiers: classifier.NewStore(store, analyzer, log),
		Trainer:     classifier.NewTrainer(analyzer, cfg.Scoring.MaxFeatures),
		Gate:        engine,
		Notifier:    dispatcher,
	}, cfg.Screening, log)
	if err != nil {
		return fail(err)
	}

	return appDeps{
		store:    store,
		screener: screener,
		engine:   engine,
		subs:     subscription.NewService(store, cfg.Subscription),
		sched:    scheduler.NewScheduler(screener, cfg.Scheduler, log),
	}, cleanup, nil
}

// buildSender 按 mail.transport 选择投递方式。
func buildSender(cfg MailConfig, log *zap.Logger) (notifier.Sender, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", "log":
		return notifier.NewLogSender(log), func() {}, nil
	case "smtp":
		if cfg.SMTP.Host == "" {
			return nil, nil, fmt.Errorf("mail.smtp.host is required for smtp transport")
		}
		return notifier.NewSMTPClient(cfg.SMTP), func() {}, nil
	case "amqp":
		s, err := notifier.NewAMQPSender(cfg.AMQP, log)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported mail transport %q", cfg.Transport)
	}
}
