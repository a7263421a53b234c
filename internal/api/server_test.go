package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-screener/internal/classifier"
	"resume-screener/internal/extractor"
	"resume-screener/internal/model"
	"resume-screener/internal/notifier"
	"resume-screener/internal/pipeline"
	"resume-screener/internal/scheduler"
	"resume-screener/internal/scoring"
	"resume-screener/internal/screening"
	"resume-screener/internal/storage"
	"resume-screener/internal/subscription"
)

func serve(h http.Handler, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	t.Parallel()

	w := serve(NewHandler(Deps{}, nil), http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestListApplicantsPaginates(t *testing.T) {
	t.Parallel()

	st := &stubStore{}
	for i := 1; i <= 5; i++ {
		st.applicants = append(st.applicants, model.Applicant{ID: uint(i), JobID: 3, Score: float64(100 - i)})
	}
	h := NewHandler(Deps{Store: st}, nil)

	w := serve(h, http.MethodGet, "/api/applicants?job_id=3&min_score=80&limit=2&page=2", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-Page"))
	assert.Equal(t, "2", w.Header().Get("X-Limit"))
	assert.Equal(t, "true", w.Header().Get("X-Has-More"))
	assert.Equal(t, "5", w.Header().Get("X-Total"))

	var apps []model.Applicant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apps))
	require.Len(t, apps, 2)
	assert.Equal(t, uint(3), apps[0].ID)

	require.Len(t, st.queries, 1)
	assert.Equal(t, storage.ApplicantQuery{JobID: 3, MinScore: 80, Offset: 2, Limit: 3}, st.queries[0])

	w = serve(h, http.MethodGet, "/api/applicants?job_id=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = serve(h, http.MethodGet, "/api/applicants?min_score=101", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	st := &stubStore{jobs: map[uint]model.JobProfile{1: {ID: 1, Title: "Backend"}}}
	w := serve(NewHandler(Deps{Store: st}, nil), http.MethodGet, "/api/jobs", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Total"))
	assert.Contains(t, w.Body.String(), "Backend")
}

func TestCreateApplicantUpload(t *testing.T) {
	t.Parallel()

	st := &stubStore{jobs: map[uint]model.JobProfile{4: {ID: 4}}}
	h := NewHandler(Deps{Store: st}, nil)

	form := func(jobID string, withFile bool) ([]byte, string) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		_ = mw.WriteField("job_id", jobID)
		_ = mw.WriteField("name", " Ada ")
		_ = mw.WriteField("email", "ada@example.com")
		if withFile {
			fw, _ := mw.CreateFormFile("resume", "ada.txt")
			_, _ = fw.Write([]byte("Go developer"))
		}
		_ = mw.Close()
		return buf.Bytes(), mw.FormDataContentType()
	}

	body, ct := form("4", true)
	w := serve(h, http.MethodPost, "/api/applicants", body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, st.created, 1)
	assert.Equal(t, "Ada", st.created[0].Name)
	assert.Equal(t, "ada.txt", st.created[0].ResumeFilename)
	assert.Equal(t, []byte("Go developer"), st.created[0].ResumeData)
	assert.NotContains(t, w.Body.String(), "resume_data")

	body, ct = form("9", true)
	w = serve(h, http.MethodPost, "/api/applicants", body, ct)
	assert.Equal(t, http.StatusNotFound, w.Code)

	body, ct = form("4", false)
	w = serve(h, http.MethodPost, "/api/applicants", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(h, http.MethodPost, "/api/applicants", []byte("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScoreApplicantMapsErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{&extractor.ExtractionError{Filename: "cv.pdf", Reason: "no text found"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("load: %w", classifier.ErrClassifierUnavailable), http.StatusConflict},
		{fmt.Errorf("%w: bad", scoring.ErrInvalidProfile), http.StatusBadRequest},
		{fmt.Errorf("get applicant 1: %w", sql.ErrNoRows), http.StatusNotFound},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		sc := &stubScreener{err: tc.err}
		w := serve(NewHandler(Deps{Screener: sc}, nil), http.MethodPost, "/api/applicants/7/score?force=1", nil, "")
		assert.Equal(t, tc.want, w.Code, "%v", tc.err)
		assert.Equal(t, uint(7), sc.lastID)
		assert.True(t, sc.lastOpts.Force)
		if tc.err != nil {
			assert.Contains(t, w.Body.String(), tc.err.Error())
		}
	}

	w := serve(NewHandler(Deps{Screener: &stubScreener{}}, nil), http.MethodPost, "/api/applicants/abc/score", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = serve(NewHandler(Deps{Screener: &stubScreener{}}, nil), http.MethodGet, "/api/applicants/7/score", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSurveyAndVideoCallbacks(t *testing.T) {
	t.Parallel()

	p := &stubPipeline{}
	h := NewHandler(Deps{Pipeline: p}, nil)

	w := serve(h, http.MethodPost, "/api/applicants/5/surveys", []byte(`{"kind":"analytical","percentage":75}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, p.completions, 1)
	assert.Equal(t, pipeline.Completion{ApplicantID: 5, Kind: model.SurveyAnalytical, Percentage: 75}, p.completions[0])

	w = serve(h, http.MethodPost, "/api/applicants/5/video", []byte(`{"file_sizes":[1024,2048]}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{1024, 2048}, p.videoSizes)

	p.err = fmt.Errorf("%w: percentage 120.00 out of range", pipeline.ErrInvalidCompletion)
	w = serve(h, http.MethodPost, "/api/applicants/5/surveys", []byte(`{"kind":"logical","percentage":120}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(h, http.MethodPost, "/api/applicants/5/surveys", []byte(`not json`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvitationAndLinkEndpoints(t *testing.T) {
	t.Parallel()

	p := &stubPipeline{}
	h := NewHandler(Deps{Pipeline: p}, nil)

	w := serve(h, http.MethodPost, "/api/applicants/5/invitation", nil, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"applicant_id":5,"kind":"logical"}`, w.Body.String())

	w = serve(h, http.MethodPost, "/api/applicants/5/link", []byte(`{"link":"https://oad.example.com/t/5"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"https://oad.example.com/t/5"}, p.links)

	w = serve(h, http.MethodPost, "/api/applicants/5/link", []byte(`{`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	p.err = fmt.Errorf("%w: stage qualified has no survey", pipeline.ErrNoInvitation)
	w = serve(h, http.MethodPost, "/api/applicants/5/invitation", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	p.err = fmt.Errorf("%w: %q", pipeline.ErrInvalidLink, "ftp://x")
	w = serve(h, http.MethodPost, "/api/applicants/5/link", []byte(`{"link":"ftp://x"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	p.err = fmt.Errorf("send assessment link: %w", notifier.ErrNoRecipient)
	w = serve(h, http.MethodPost, "/api/applicants/5/link", []byte(`{"link":"https://oad.example.com/t/5"}`), "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	p.err = fmt.Errorf("send assessment link: %w", notifier.ErrDeliveryFailed)
	w = serve(h, http.MethodPost, "/api/applicants/5/link", []byte(`{"link":"https://oad.example.com/t/5"}`), "application/json")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestTrainEndpoints(t *testing.T) {
	t.Parallel()

	sc := &stubScreener{}
	h := NewHandler(Deps{Screener: sc}, nil)

	w := serve(h, http.MethodPost, "/api/jobs/3/train", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"scope":"job:3"`)

	w = serve(h, http.MethodPost, "/api/classifier/train", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"scope":"global"`)

	sc.err = fmt.Errorf("train: %w", classifier.ErrInsufficientTrainingData)
	w = serve(h, http.MethodPost, "/api/jobs/3/train", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRunSweep(t *testing.T) {
	t.Parallel()

	sch := &stubScheduler{}
	h := NewHandler(Deps{Scheduler: sch}, nil)

	w := serve(h, http.MethodPost, "/api/sweeps/screen", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"screen"}, sch.runs)
	assert.Contains(t, w.Body.String(), `"succeeded":3`)

	w = serve(h, http.MethodPost, "/api/sweeps/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	sch.busy = true
	w = serve(h, http.MethodPost, "/api/sweeps/screen", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(h, http.MethodGet, "/api/sweeps", nil, "")
	assert.JSONEq(t, `["screen","retrain"]`, w.Body.String())

	w = serve(NewHandler(Deps{}, nil), http.MethodPost, "/api/sweeps/screen", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSubscriptions(t *testing.T) {
	t.Parallel()

	subs := &stubSubscriptions{}
	h := NewHandler(Deps{Subscriptions: subs}, nil)

	w := serve(h, http.MethodPost, "/api/subscriptions", []byte(`{"email":"hr@example.com","kinds":["summary"],"job_id":2}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, subs.reqs, 1)
	require.NotNil(t, subs.reqs[0].JobID)
	assert.Equal(t, uint(2), *subs.reqs[0].JobID)

	subs.err = &subscription.ValidationError{Field: "email", Reason: "required"}
	w = serve(h, http.MethodPost, "/api/subscriptions", []byte(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "email: required")

	w = serve(h, http.MethodGet, "/api/subscriptions", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hr@example.com")

	w = serve(NewHandler(Deps{}, nil), http.MethodPost, "/api/subscriptions", []byte(`{}`), "application/json")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("save: %w", storage.ErrConcurrencyConflict)))
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("%w: 123", pipeline.ErrInvalidPersonalityScore)))
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("%w: no completed analytical result for applicant 3", pipeline.ErrInvalidCompletion)))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
}

// --- stubs ---

type stubStore struct {
	jobs       map[uint]model.JobProfile
	applicants []model.Applicant
	queries    []storage.ApplicantQuery
	created    []model.Applicant
}

func (s *stubStore) ListJobs(context.Context) ([]model.JobProfile, error) {
	out := make([]model.JobProfile, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (s *stubStore) GetJob(_ context.Context, id uint) (*model.JobProfile, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("get job %d: %w", id, sql.ErrNoRows)
	}
	return &j, nil
}

func (s *stubStore) ListApplicants(_ context.Context, q storage.ApplicantQuery) ([]model.Applicant, error) {
	s.queries = append(s.queries, q)
	if q.Offset >= len(s.applicants) {
		return nil, nil
	}
	end := q.Offset + q.Limit
	if end > len(s.applicants) {
		end = len(s.applicants)
	}
	return s.applicants[q.Offset:end], nil
}

func (s *stubStore) CountApplicants(context.Context, storage.ApplicantQuery) (int64, error) {
	return int64(len(s.applicants)), nil
}

func (s *stubStore) CreateApplicant(_ context.Context, a *model.Applicant) error {
	a.ID = uint(len(s.created) + 1)
	s.created = append(s.created, *a)
	return nil
}

type stubScreener struct {
	err      error
	lastID   uint
	lastOpts screening.Options
}

func (s *stubScreener) ScoreApplicant(_ context.Context, id uint, opts screening.Options) (screening.Result, error) {
	s.lastID, s.lastOpts = id, opts
	if s.err != nil {
		return screening.Result{}, s.err
	}
	return screening.Result{Applicant: model.Applicant{ID: id, Score: 81}}, nil
}

func (s *stubScreener) TrainJob(_ context.Context, jobID uint) (screening.TrainResult, error) {
	if s.err != nil {
		return screening.TrainResult{}, s.err
	}
	return screening.TrainResult{Scope: classifier.JobScope(jobID), CorpusSize: 4}, nil
}

func (s *stubScreener) TrainGlobal(context.Context) (screening.TrainResult, error) {
	if s.err != nil {
		return screening.TrainResult{}, s.err
	}
	return screening.TrainResult{Scope: classifier.GlobalScope, CorpusSize: 9}, nil
}

type stubPipeline struct {
	completions []pipeline.Completion
	videoSizes  []int64
	links       []string
	err         error
}

func (p *stubPipeline) HandleVideoSubmission(_ context.Context, id uint, sizes []int64) (pipeline.Outcome, error) {
	p.videoSizes = sizes
	return pipeline.Outcome{ApplicantID: id, Action: pipeline.ActionAdvanced}, p.err
}

func (p *stubPipeline) HandleSurveyCompleted(_ context.Context, c pipeline.Completion) (pipeline.Outcome, error) {
	if p.err != nil {
		return pipeline.Outcome{}, p.err
	}
	p.completions = append(p.completions, c)
	return pipeline.Outcome{ApplicantID: c.ApplicantID, Action: pipeline.ActionAdvanced}, nil
}

func (p *stubPipeline) ResendInvitation(context.Context, uint) (model.SurveyKind, error) {
	if p.err != nil {
		return "", p.err
	}
	return model.SurveyLogical, nil
}

func (p *stubPipeline) SendAssessmentLink(_ context.Context, _ uint, link string) error {
	if p.err != nil {
		return p.err
	}
	p.links = append(p.links, link)
	return nil
}

type stubScheduler struct {
	runs []string
	busy bool
}

func (s *stubScheduler) RunOnce(_ context.Context, name string) (screening.SweepReport, error) {
	if name != "screen" && name != "retrain" {
		return screening.SweepReport{}, fmt.Errorf("%w: %q", scheduler.ErrUnknownJob, name)
	}
	if s.busy {
		return screening.SweepReport{Name: name}, scheduler.ErrJobRunning
	}
	s.runs = append(s.runs, name)
	return screening.SweepReport{Name: name, Processed: 3, Succeeded: 3}, nil
}

func (s *stubScheduler) Names() []string { return []string{"screen", "retrain"} }

type stubSubscriptions struct {
	reqs []subscription.Request
	err  error
}

func (s *stubSubscriptions) Create(_ context.Context, req subscription.Request) (model.Subscription, error) {
	if s.err != nil {
		return model.Subscription{}, s.err
	}
	s.reqs = append(s.reqs, req)
	return model.Subscription{ID: 1, Email: strings.ToLower(req.Email), JobID: req.JobID}, nil
}

func (s *stubSubscriptions) List(context.Context) ([]model.Subscription, error) {
	out := make([]model.Subscription, 0, len(s.reqs))
	for i, r := range s.reqs {
		out = append(out, model.Subscription{ID: uint(i + 1), Email: r.Email})
	}
	return out, nil
}
