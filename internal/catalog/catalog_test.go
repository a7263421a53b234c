package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-screener/internal/model"
	"resume-screener/internal/storage"
)

const sampleCatalog = `
jobs:
  - code: backend
    title: Backend Engineer
    required_skills: [Go, PostgreSQL, Kubernetes]
    required_keywords: [distributed systems]
    min_experience_years: 3
    pass_score: 65
    workflow_mode: combined
    auto_screen: true
    summary_frequency: weekly
    analytical_survey_url: https://surveys.example.com/analytical
    logical_survey_url: https://surveys.example.com/logical
    stages:
      - key: new
      - key: qualified_resume
        name: Shortlisted
      - key: dropped
  - code: support
    title: Support Specialist
    scoring_policy: points
training:
  - label: good
    job: backend
    source: seed-good
    text: Senior Go engineer running Kubernetes clusters.
  - label: bad
    file: bad.txt
`

func writeCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(sampleCatalog), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.txt"), []byte("Barista. Latte art."), 0o644))
	return filepath.Join(dir, "catalog.yaml")
}

func TestLoadReadsTrainingFiles(t *testing.T) {
	t.Parallel()

	cat, err := Load(writeCatalog(t))
	require.NoError(t, err)
	require.Len(t, cat.Jobs, 2)
	assert.Equal(t, []string{"Go", "PostgreSQL", "Kubernetes"}, cat.Jobs[0].RequiredSkills)
	require.Len(t, cat.Training, 2)
	assert.Equal(t, "Barista. Latte art.", cat.Training[1].Text)
	assert.Equal(t, "bad.txt", cat.Training[1].Source)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"syntax":          "jobs: [",
		"missing code":    "jobs:\n  - title: A\n",
		"duplicate code":  "jobs:\n  - {code: a, title: A}\n  - {code: a, title: B}\n",
		"bad policy":      "jobs:\n  - {code: a, title: A, scoring_policy: magic}\n",
		"bad workflow":    "jobs:\n  - {code: a, title: A, workflow_mode: chaos}\n",
		"pass over 100":   "jobs:\n  - {code: a, title: A, pass_score: 120}\n",
		"experience":      "jobs:\n  - {code: a, title: A, min_experience_years: 5, max_experience_years: 2}\n",
		"unknown stage":   "stages:\n  - key: interview\n",
		"duplicate stage": "stages:\n  - key: new\n  - key: new\n",
		"job stage":       "jobs:\n  - code: a\n    title: A\n    stages: [{key: offer}]\n",
		"bad label":       "training:\n  - {label: maybe, text: x}\n",
		"no text":         "training:\n  - {label: good}\n",
		"unknown job":     "training:\n  - {label: good, text: x, job: ghost}\n",
		"survey url":      "jobs:\n  - {code: a, title: A, logical_survey_url: not a url}\n",
	}
	for name, body := range cases {
		_, err := Parse([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidCatalog, name)
	}
}

func TestSeedWritesJobsStagesAndTraining(t *testing.T) {
	t.Parallel()

	store, err := storage.NewStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	cat, err := Load(writeCatalog(t))
	require.NoError(t, err)

	report, err := Seed(ctx, store, cat, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.JobsCreated)
	assert.Equal(t, len(model.StageOrder)+3, report.Stages)
	assert.Equal(t, 2, report.TrainingAdded)

	global, err := store.ListStages(ctx, nil)
	require.NoError(t, err)
	require.Len(t, global, len(model.StageOrder))
	assert.Equal(t, model.StageNew, global[0].Key)
	assert.Equal(t, "Analytical Skills Screening", global[2].Name)

	backend, err := store.GetJobByCode(ctx, "backend")
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowCombined, backend.WorkflowMode)
	assert.Equal(t, model.FrequencyWeekly, backend.SummaryFrequency)
	assert.Equal(t, "https://surveys.example.com/logical", backend.SurveyURL(model.SurveyLogical))
	assert.Empty(t, backend.SurveyURL(model.SurveyPersonality))

	scoped, err := store.ListStages(ctx, &backend.ID)
	require.NoError(t, err)
	require.Len(t, scoped, 3)
	assert.Equal(t, "Shortlisted", scoped[1].Name)

	trainingForBackend, err := store.ListTrainingResumes(ctx, &backend.ID)
	require.NoError(t, err)
	assert.Len(t, trainingForBackend, 2)

	// 重复写入为更新，训练语料不重复。
	report, err = Seed(ctx, store, cat, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.JobsCreated)
	assert.Equal(t, 2, report.JobsUpdated)
	assert.Zero(t, report.TrainingAdded)

	global, err = store.ListStages(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, global, len(model.StageOrder))
}
