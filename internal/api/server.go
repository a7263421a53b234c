package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"resume-screener/internal/classifier"
	"resume-screener/internal/extractor"
	"resume-screener/internal/logger"
	"resume-screener/internal/model"
	"resume-screener/internal/notifier"
	"resume-screener/internal/pipeline"
	"resume-screener/internal/scheduler"
	"resume-screener/internal/scoring"
	"resume-screener/internal/screening"
	"resume-screener/internal/storage"
	"resume-screener/internal/subscription"
)

// MaxUploadBytes 简历上传大小上限。
const MaxUploadBytes = 10 << 20

// Store 抽象存储接口。
type Store interface {
	ListJobs(ctx context.Context) ([]model.JobProfile, error)
	GetJob(ctx context.Context, id uint) (*model.JobProfile, error)
	ListApplicants(ctx context.Context, q storage.ApplicantQuery) ([]model.Applicant, error)
	CountApplicants(ctx context.Context, q storage.ApplicantQuery) (int64, error)
	CreateApplicant(ctx context.Context, a *model.Applicant) error
}

// Screener 抽象评分与训练。
type Screener interface {
	ScoreApplicant(ctx context.Context, applicantID uint, opts screening.Options) (screening.Result, error)
	TrainJob(ctx context.Context, jobID uint) (screening.TrainResult, error)
	TrainGlobal(ctx context.Context) (screening.TrainResult, error)
}

// Pipeline 抽象测评提交处理与测评邀请。
type Pipeline interface {
	HandleVideoSubmission(ctx context.Context, applicantID uint, fileSizes []int64) (pipeline.Outcome, error)
	HandleSurveyCompleted(ctx context.Context, c pipeline.Completion) (pipeline.Outcome, error)
	ResendInvitation(ctx context.Context, applicantID uint) (model.SurveyKind, error)
	SendAssessmentLink(ctx context.Context, applicantID uint, link string) error
}

// Scheduler 抽象调度接口。
type Scheduler interface {
	RunOnce(ctx context.Context, name string) (screening.SweepReport, error)
	Names() []string
}

// SubscriptionService 处理订阅创建。
type SubscriptionService interface {
	Create(ctx context.Context, req subscription.Request) (model.Subscription, error)
	List(ctx context.Context) ([]model.Subscription, error)
}

// Deps 为 Handler 的依赖，Scheduler 与 Subscriptions 可为空。
type Deps struct {
	Store         Store
	Screener      Screener
	Pipeline      Pipeline
	Scheduler     Scheduler
	Subscriptions SubscriptionService
}

// SurveyRequest 测评完成回调。
type SurveyRequest struct {
	Kind       model.SurveyKind `json:"kind"`
	Percentage float64          `json:"percentage"`
	RawTotal   int64            `json:"raw_total"`
}

// VideoRequest 视频提交回调，FileSizes 为各附件字节数。
type VideoRequest struct {
	FileSizes []int64 `json:"file_sizes"`
}

// LinkRequest HR 手动发送的测评链接。
type LinkRequest struct {
	Link string `json:"link"`
}

type handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler 构造 HTTP 多路复用器。
func NewHandler(deps Deps, log *zap.Logger) http.Handler {
	h := &handler{deps: deps, logger: logger.OrNop(log).Named("api")}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/jobs", h.listJobs)
	mux.HandleFunc("POST /api/jobs/{id}/train", h.trainJob)
	mux.HandleFunc("POST /api/classifier/train", h.trainGlobal)
	mux.HandleFunc("GET /api/applicants", h.listApplicants)
	mux.HandleFunc("POST /api/applicants", h.createApplicant)
	mux.HandleFunc("POST /api/applicants/{id}/score", h.scoreApplicant)
	mux.HandleFunc("POST /api/applicants/{id}/surveys", h.surveyCompleted)
	mux.HandleFunc("POST /api/applicants/{id}/video", h.videoSubmitted)
	mux.HandleFunc("POST /api/applicants/{id}/invitation", h.resendInvitation)
	mux.HandleFunc("POST /api/applicants/{id}/link", h.sendLink)
	mux.HandleFunc("GET /api/sweeps", h.listSweeps)
	mux.HandleFunc("POST /api/sweeps/{name}", h.runSweep)
	mux.HandleFunc("GET /api/subscriptions", h.listSubscriptions)
	mux.HandleFunc("POST /api/subscriptions", h.createSubscription)

	return h.logRequests(mux)
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.deps.Store.ListJobs(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("X-Total", strconv.Itoa(len(jobs)))
	writeJSON(w, http.StatusOK, jobs)
}

func (h *handler) listApplicants(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 20
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			if v > 100 {
				v = 100
			}
			limit = v
		}
	}
	page := 1
	if p := q.Get("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	query := storage.ApplicantQuery{}
	if v := q.Get("job_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid job_id"})
			return
		}
		query.JobID = uint(id)
	}
	if v := q.Get("min_score"); v != "" {
		score, err := strconv.ParseFloat(v, 64)
		if err != nil || score < 0 || score > 100 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid min_score"})
			return
		}
		query.MinScore = score
	}

	total, err := h.deps.Store.CountApplicants(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	query.Offset = (page - 1) * limit
	query.Limit = limit + 1
	apps, err := h.deps.Store.ListApplicants(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	hasMore := false
	if len(apps) > limit {
		hasMore = true
		apps = apps[:limit]
	}

	w.Header().Set("X-Page", strconv.Itoa(page))
	w.Header().Set("X-Limit", strconv.Itoa(limit))
	w.Header().Set("X-Has-More", strconv.FormatBool(hasMore))
	w.Header().Set("X-Total", strconv.FormatInt(total, 10))
	writeJSON(w, http.StatusOK, apps)
}

// createApplicant 接收 multipart 表单：job_id、name、email 与 resume 文件。
func (h *handler) createApplicant(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}
	jobID, err := strconv.ParseUint(r.FormValue("job_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid job_id"})
		return
	}
	if _, err := h.deps.Store.GetJob(r.Context(), uint(jobID)); err != nil {
		h.writeError(w, r, err)
		return
	}

	file, header, err := r.FormFile("resume")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "resume file required"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read resume"})
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "resume file is empty"})
		return
	}

	app := model.Applicant{
		JobID:          uint(jobID),
		Name:           strings.TrimSpace(r.FormValue("name")),
		Email:          strings.TrimSpace(r.FormValue("email")),
		ResumeFilename: header.Filename,
		ResumeMIME:     header.Header.Get("Content-Type"),
		ResumeData:     data,
	}
	if err := h.deps.Store.CreateApplicant(r.Context(), &app); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (h *handler) scoreApplicant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	opts := screening.Options{
		Force:             truthy(r.URL.Query().Get("force")),
		RequireClassifier: truthy(r.URL.Query().Get("require_classifier")),
	}
	res, err := h.deps.Screener.ScoreApplicant(r.Context(), id, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) surveyCompleted(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req SurveyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	out, err := h.deps.Pipeline.HandleSurveyCompleted(r.Context(), pipeline.Completion{
		ApplicantID: id,
		Kind:        req.Kind,
		Percentage:  req.Percentage,
		RawTotal:    req.RawTotal,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) videoSubmitted(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req VideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	out, err := h.deps.Pipeline.HandleVideoSubmission(r.Context(), id, req.FileSizes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) resendInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	kind, err := h.deps.Pipeline.ResendInvitation(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"applicant_id": id, "kind": kind})
}

func (h *handler) sendLink(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if err := h.deps.Pipeline.SendAssessmentLink(r.Context(), id, req.Link); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applicant_id": id, "sent": true})
}

func (h *handler) trainJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.deps.Screener.TrainJob(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) trainGlobal(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Screener.TrainGlobal(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) listSweeps(w http.ResponseWriter, r *http.Request) {
	if h.deps.Scheduler == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Scheduler.Names())
}

func (h *handler) runSweep(w http.ResponseWriter, r *http.Request) {
	if h.deps.Scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler disabled"})
		return
	}
	report, err := h.deps.Scheduler.RunOnce(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Subscriptions == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "subscription disabled"})
		return
	}
	subs, err := h.deps.Subscriptions.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	if h.deps.Subscriptions == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "subscription disabled"})
		return
	}
	var req subscription.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	sub, err := h.deps.Subscriptions.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// statusFor 将领域错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, scheduler.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, extractor.ErrExtractionFailed),
		errors.Is(err, classifier.ErrInsufficientTrainingData),
		errors.Is(err, notifier.ErrNoRecipient):
		return http.StatusUnprocessableEntity
	case errors.Is(err, classifier.ErrClassifierUnavailable),
		errors.Is(err, storage.ErrConcurrencyConflict),
		errors.Is(err, scheduler.ErrJobRunning),
		errors.Is(err, pipeline.ErrNoInvitation):
		return http.StatusConflict
	case errors.Is(err, scoring.ErrInvalidProfile),
		errors.Is(err, subscription.ErrInvalidRequest),
		errors.Is(err, pipeline.ErrInvalidCompletion),
		errors.Is(err, pipeline.ErrInvalidPersonalityScore),
		errors.Is(err, pipeline.ErrInvalidLink):
		return http.StatusBadRequest
	case errors.Is(err, notifier.ErrDeliveryFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
