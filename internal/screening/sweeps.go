package screening

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"resume-screener/internal/classifier"
	"resume-screener/internal/logger"
	"resume-screener/internal/model"
	"resume-screener/internal/storage"
)

// SweepReport 汇总一次批处理。单个应聘者或岗位的失败只计数，不中断批处理。
type SweepReport struct {
	Name       string    `json:"name"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Skipped    int       `json:"skipped"`
	Deferred   int       `json:"deferred"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (s *Service) startReport(name string) SweepReport {
	return SweepReport{Name: name, StartedAt: s.now().UTC()}
}

func (s *Service) finish(r SweepReport) SweepReport {
	r.FinishedAt = s.now().UTC()
	s.logger.Info("sweep finished",
		zap.String("sweep", r.Name),
		zap.Int("processed", r.Processed),
		zap.Int("succeeded", r.Succeeded),
		zap.Int("skipped", r.Skipped),
		zap.Int("deferred", r.Deferred),
		zap.Int("failed", r.Failed),
		zap.Duration("took", r.FinishedAt.Sub(r.StartedAt)),
	)
	return r
}

// AutoScreen 为开启自动筛选的岗位评分所有未评分的应聘者。
func (s *Service) AutoScreen(ctx context.Context) (SweepReport, error) {
	report := s.startReport("screen")
	jobs, err := s.repo.ListJobs(ctx)
	if err != nil {
		return report, fmt.Errorf("list jobs: %w", err)
	}

	for _, job := range jobs {
		if !job.AutoScreen {
			continue
		}
		apps, err := s.repo.ListUnscoredApplicants(ctx, job.ID, s.cfg.BatchSize)
		if err != nil {
			report.Failed++
			s.logger.Error("list unscored applicants", zap.Uint("job_id", job.ID), zap.Error(err))
			continue
		}
		for _, app := range apps {
			if err := ctx.Err(); err != nil {
				return s.finish(report), err
			}
			report.Processed++
			res, err := s.score(ctx, app, job, Options{auto: true})
			fields := logger.Applicant(app.ID, job.ID)
			switch {
			case errors.Is(err, classifier.ErrClassifierUnavailable):
				report.Skipped++
				s.logger.Info("classifier required but unavailable, skipping", fields...)
				s.markAttempt(ctx, app, err)
			case err != nil:
				report.Failed++
				s.logger.Error("auto screen applicant", append(fields, zap.Error(err))...)
				s.markAttempt(ctx, app, err)
			case res.Deferred:
				report.Deferred++
			default:
				report.Succeeded++
			}
		}
	}
	return s.finish(report), nil
}

// markAttempt 记录失败的筛选尝试，使该记录在后续批次中排到未尝试记录之后。
func (s *Service) markAttempt(ctx context.Context, app model.Applicant, cause error) {
	if err := s.repo.MarkScreenFailed(ctx, app.ID, s.now().UTC(), cause.Error()); err != nil {
		s.logger.Warn("mark screen attempt", append(logger.Applicant(app.ID, app.JobID), zap.Error(err))...)
	}
}

// AutoRetrain 对开启自动训练的岗位，自上次训练后新评分数量达到阈值时重训岗位分类器。
func (s *Service) AutoRetrain(ctx context.Context) (SweepReport, error) {
	report := s.startReport("retrain")
	jobs, err := s.repo.ListJobs(ctx)
	if err != nil {
		return report, fmt.Errorf("list jobs: %w", err)
	}

	for _, job := range jobs {
		if !job.AutoTrain {
			continue
		}
		if err := ctx.Err(); err != nil {
			return s.finish(report), err
		}
		report.Processed++
		fields := []zap.Field{zap.Uint("job_id", job.ID)}

		n, err := s.repo.CountScoredSince(ctx, job.ID, job.LastAutoTrainAt)
		if err != nil {
			report.Failed++
			s.logger.Error("count scored applicants", append(fields, zap.Error(err))...)
			continue
		}
		if n < int64(job.EffectiveAutoTrainThreshold()) {
			report.Skipped++
			s.logger.Debug("not enough new scores to retrain", append(fields, zap.Int64("new_scores", n))...)
			continue
		}

		res, err := s.TrainJob(ctx, job.ID)
		if errors.Is(err, classifier.ErrInsufficientTrainingData) {
			report.Skipped++
			s.logger.Info("retrain skipped", append(fields, zap.Error(err))...)
			continue
		}
		if err != nil {
			report.Failed++
			s.logger.Error("retrain job classifier", append(fields, zap.Error(err))...)
			continue
		}
		if err := s.repo.MarkTrained(ctx, job.ID, res.TrainedAt); err != nil {
			s.logger.Warn("stamp auto train time", append(fields, zap.Error(err))...)
		}
		report.Succeeded++
	}
	return s.finish(report), nil
}

// TrainJob 使用岗位语料与全局人工标注重训岗位分类器。
func (s *Service) TrainJob(ctx context.Context, jobID uint) (TrainResult, error) {
	if _, err := s.repo.GetJob(ctx, jobID); err != nil {
		return TrainResult{}, fmt.Errorf("get job %d: %w", jobID, err)
	}
	return s.train(ctx, classifier.JobScope(jobID), &jobID)
}

// TrainGlobal 使用全部语料重训全局分类器。
func (s *Service) TrainGlobal(ctx context.Context) (TrainResult, error) {
	return s.train(ctx, classifier.GlobalScope, nil)
}

func (s *Service) train(ctx context.Context, scope string, jobID *uint) (TrainResult, error) {
	corpus, err := classifier.AssembleCorpus(ctx, s.repo, jobID)
	if err != nil {
		return TrainResult{}, err
	}
	m, err := s.deps.Trainer.Train(corpus)
	if err != nil {
		return TrainResult{}, fmt.Errorf("train %s: %w", scope, err)
	}
	if err := s.deps.Classifiers.Put(ctx, scope, m); err != nil {
		return TrainResult{}, err
	}
	return TrainResult{
		Scope:      scope,
		Version:    m.Version(),
		CorpusSize: m.CorpusSize(),
		TrainedAt:  m.TrainedAt(),
	}, nil
}

// SendSummaries 为指定频率的岗位发送汇总：统计窗口内达到高分阈值的应聘者，
// 按分数倒序取前 MaxCandidatesInEmail 个。窗口起点为上次发送时间，否则为 now 减去周期。
func (s *Service) SendSummaries(ctx context.Context, freq model.SummaryFrequency, now time.Time) (SweepReport, error) {
	report := s.startReport("summary-" + string(freq))
	period := freq.Period()
	if period <= 0 {
		return report, fmt.Errorf("send summaries: unsupported frequency %q", freq)
	}
	jobs, err := s.repo.ListJobs(ctx)
	if err != nil {
		return report, fmt.Errorf("list jobs: %w", err)
	}

	for _, job := range jobs {
		if job.SummaryFrequency != freq {
			continue
		}
		if err := ctx.Err(); err != nil {
			return s.finish(report), err
		}
		report.Processed++
		fields := []zap.Field{zap.Uint("job_id", job.ID), zap.String("frequency", string(freq))}

		since := now.Add(-period)
		if job.LastSummaryAt != nil {
			since = *job.LastSummaryAt
		}
		candidates, err := s.repo.ListApplicants(ctx, storage.ApplicantQuery{
			JobID:    job.ID,
			MinScore: job.EffectiveHighScoreThreshold(),
			Since:    &since,
			Scored:   true,
			Limit:    job.EffectiveMaxCandidates(),
		})
		if err != nil {
			report.Failed++
			s.logger.Error("list summary candidates", append(fields, zap.Error(err))...)
			continue
		}

		sent, err := s.deps.Notifier.SendSummary(ctx, job, candidates, since)
		if err != nil {
			report.Failed++
			s.logger.Error("send summary", append(fields, zap.Error(err))...)
			continue
		}
		if err := s.repo.MarkSummarySent(ctx, job.ID, now); err != nil {
			s.logger.Warn("stamp summary time", append(fields, zap.Error(err))...)
		}
		if sent == 0 {
			report.Skipped++
			continue
		}
		report.Succeeded++
	}
	return s.finish(report), nil
}
