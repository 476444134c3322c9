package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/medguide-rag/internal/config"
	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/ports"
)

// Observer receives per-endpoint outcomes. *metrics.HTTPServerMetrics satisfies it.
type Observer interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
	RecordSearch(endpoint string, resp *domain.SearchResponse, duration time.Duration)
	RecordVerification(res *domain.VerificationResult)
	RecordSafety(res *domain.SafetyValidationResult)
	RecordAnswer(outcome string)
	SetSnapshot(status domain.SystemStatus)
}

// Dependencies are the inbound ports served by the router. Answerer, Uploader,
// Reader and Observer are optional; their routes answer 501 when unset.
type Dependencies struct {
	Ingestor  ports.GuidelineIngestor
	Searcher  ports.EvidenceSearcher
	Verifier  ports.AnswerVerifier
	Safety    ports.SafetyValidator
	Answerer  ports.ClinicalAnswerer
	Inspector ports.SystemInspector
	Uploader  ports.GuidelineUploader
	Reader    ports.GuidelineReader
	Observer  Observer
	Logger    *slog.Logger
}

type Router struct {
	deps      Dependencies
	logger    *slog.Logger
	validator *requestValidator

	apiKey            string
	rateLimitRPS      float64
	rateLimitBurst    int
	maxInFlight       int
	backpressureWait  time.Duration
	maxUploadBytes    int64
	requestValidation bool
}

func NewRouter(cfg config.Config, deps Dependencies) (*Router, error) {
	if deps.Ingestor == nil || deps.Searcher == nil || deps.Verifier == nil || deps.Safety == nil || deps.Inspector == nil {
		return nil, errors.New("http router: ingestor, searcher, verifier, safety and inspector are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rt := &Router{
		deps:              deps,
		logger:            logger,
		apiKey:            strings.TrimSpace(cfg.APIKey),
		rateLimitRPS:      cfg.APIRateLimitRPS,
		rateLimitBurst:    cfg.APIRateLimitBurst,
		maxInFlight:       cfg.APIBackpressureInFlight,
		backpressureWait:  cfg.APIBackpressureWait,
		maxUploadBytes:    cfg.APIMaxUploadBytes,
		requestValidation: cfg.APIRequestValidation,
	}
	if rt.maxUploadBytes <= 0 {
		rt.maxUploadBytes = 64 << 20
	}
	if rt.requestValidation {
		validator, err := newRequestValidator()
		if err != nil {
			return nil, fmt.Errorf("http router: %w", err)
		}
		rt.validator = validator
	}
	return rt, nil
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /v1/system/status", rt.systemStatus)
	api.HandleFunc("GET /v1/guidelines", rt.listGuidelines)
	api.HandleFunc("POST /v1/guidelines", rt.ingestGuidelines)
	api.HandleFunc("POST /v1/guidelines/upload", rt.uploadGuideline)
	api.HandleFunc("GET /v1/guidelines/{id}", rt.getGuideline)
	api.HandleFunc("DELETE /v1/guidelines/{id}", rt.removeGuideline)
	api.HandleFunc("POST /v1/search", rt.search)
	api.HandleFunc("POST /v1/verify", rt.verify)
	api.HandleFunc("POST /v1/safety/validate", rt.validateSafety)
	api.HandleFunc("POST /v1/answer", rt.answer)

	var protected http.Handler = api
	if rt.validator != nil {
		protected = rt.validator.middleware(protected)
	}
	protected = rt.authMiddleware(protected)
	protected = backpressureMiddleware(protected, rt.maxInFlight, rt.backpressureWait)
	protected = rateLimitMiddleware(protected, rt.rateLimitRPS, rt.rateLimitBurst)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.deps.Observer != nil {
		mux.Handle("GET /metrics", rt.deps.Observer.Handler())
	}
	mux.Handle("/v1/", protected)

	var handler http.Handler = mux
	if rt.deps.Observer != nil {
		handler = rt.deps.Observer.Middleware(handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	status := rt.deps.Inspector.Status()
	servedGeneration(w, r, status.Generation)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"ready":      status.Ready,
		"generation": status.Generation,
	})
}

func (rt *Router) systemStatus(w http.ResponseWriter, r *http.Request) {
	status := rt.deps.Inspector.Status()
	servedGeneration(w, r, status.Generation)
	if rt.deps.Observer != nil {
		rt.deps.Observer.SetSnapshot(status)
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	var req domain.SearchRequest
	if !rt.decodeJSON(w, r, &req) {
		return
	}

	start := time.Now()
	resp, err := rt.deps.Searcher.Search(r.Context(), req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.deps.Observer != nil {
		rt.deps.Observer.RecordSearch("search", resp, time.Since(start))
	}
	servedGeneration(w, r, resp.Generation)
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) verify(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyRequest
	if !rt.decodeJSON(w, r, &req) {
		return
	}

	res, err := rt.deps.Verifier.Verify(r.Context(), req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.deps.Observer != nil {
		rt.deps.Observer.RecordVerification(res)
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) validateSafety(w http.ResponseWriter, r *http.Request) {
	req := domain.SafetyRequest{CheckInteractions: true, CheckContraindications: true}
	if !rt.decodeStrictJSON(w, r, &req) {
		return
	}

	res, err := rt.deps.Safety.Validate(r.Context(), req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.deps.Observer != nil {
		rt.deps.Observer.RecordSafety(res)
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Answerer == nil {
		writeProblem(w, r, errorClass{http.StatusNotImplemented, "not_configured"}, "answer generation is not configured")
		return
	}
	var req domain.AnswerRequest
	if !rt.decodeStrictJSON(w, r, &req) {
		return
	}

	res, err := rt.deps.Answerer.Answer(r.Context(), req)
	if err != nil {
		if rt.deps.Observer != nil {
			rt.deps.Observer.RecordAnswer("error")
		}
		rt.writeError(w, r, err)
		return
	}
	if rt.deps.Observer != nil {
		outcome := "no_evidence"
		if res.Verification != nil {
			outcome = string(res.Verification.HallucinationRisk)
		}
		rt.deps.Observer.RecordAnswer(outcome)
	}
	writeJSON(w, http.StatusOK, res)
}

// decodeJSON writes the 400 response itself and reports whether the handler may continue.
func (rt *Router) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	return rt.decode(w, r, dst, false)
}

// decodeStrictJSON also rejects unknown keys, so a misspelled patient field is
// an input error rather than a missing value.
func (rt *Router) decodeStrictJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	return rt.decode(w, r, dst, true)
}

func (rt *Router) decode(w http.ResponseWriter, r *http.Request, dst any, strict bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, rt.maxUploadBytes))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, r, errorClass{http.StatusRequestEntityTooLarge, "payload_too_large"}, "request body too large")
			return false
		}
		writeProblem(w, r, errorClass{http.StatusBadRequest, "invalid_input"}, "invalid json: "+err.Error())
		return false
	}
	return true
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	class := classifyError(err)
	if class.status >= http.StatusInternalServerError {
		rt.logger.Error("http_handler_failed",
			"request_id", stateFrom(r.Context()).id,
			"path", r.URL.Path,
			"error_code", class.code,
			"error", err,
		)
	}
	writeProblem(w, r, class, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
