package classifier

import (
	"context"
	"fmt"
	"strings"

	"resume-screener/internal/model"
)

// CorpusSource 提供训练语料。jobID 为 nil 表示全部岗位。
type CorpusSource interface {
	ListTrainingResumes(ctx context.Context, jobID *uint) ([]model.TrainingResume, error)
	ListTrainableApplicants(ctx context.Context, jobID *uint) ([]model.Applicant, error)
	ListJobs(ctx context.Context) ([]model.JobProfile, error)
}

// AssembleCorpus 合并人工标注简历与已评分应聘者，后者按岗位通过分数自动打标。
func AssembleCorpus(ctx context.Context, src CorpusSource, jobID *uint) ([]Example, error) {
	manual, err := src.ListTrainingResumes(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list training resumes: %w", err)
	}
	applicants, err := src.ListTrainableApplicants(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list trainable applicants: %w", err)
	}
	jobs, err := src.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	passScores := make(map[uint]float64, len(jobs))
	for _, j := range jobs {
		passScores[j.ID] = j.EffectivePassScore()
	}

	corpus := make([]Example, 0, len(manual)+len(applicants))
	for _, r := range manual {
		label := Label(strings.ToLower(strings.TrimSpace(r.Label)))
		if strings.TrimSpace(r.Text) == "" || (label != LabelGood && label != LabelBad) {
			continue
		}
		corpus = append(corpus, Example{Text: r.Text, Label: label})
	}
	for _, a := range applicants {
		if strings.TrimSpace(a.ResumeText) == "" || a.Score <= 0 {
			continue
		}
		pass, ok := passScores[a.JobID]
		if !ok {
			pass = model.DefaultPassScore
		}
		label := LabelBad
		if a.Score >= pass {
			label = LabelGood
		}
		corpus = append(corpus, Example{Text: a.ResumeText, Label: label})
	}
	return corpus, nil
}
