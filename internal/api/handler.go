package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/worldland/linkbench/internal/classify"
	"github.com/worldland/linkbench/internal/domain"
	"github.com/worldland/linkbench/internal/services"
	"github.com/worldland/linkbench/internal/vram"
	"go.uber.org/zap"
)

// StartBenchmarkRequest is the JSON body for POST /benchmark/start. Zero fields keep
// the server defaults.
type StartBenchmarkRequest struct {
	BufferSize     uint64 `json:"bufferSize"`
	CopiesPerBatch int    `json:"copiesPerBatch"`
	BatchCount     int    `json:"batchCount"`
	IterationCount int    `json:"iterationCount"`
	RunCount       int    `json:"runCount"`
	Bidirectional  *bool  `json:"bidirectional,omitempty"`
	Latency        *bool  `json:"latency,omitempty"`
}

// StartScanRequest is the JSON body for POST /scan/start
type StartScanRequest struct {
	FullScan bool   `json:"fullScan"`
	Seed     uint64 `json:"seed,omitempty"`
}

// StartResponse is returned when a job was accepted
type StartResponse struct {
	Kind    services.JobKind `json:"kind"`
	Message string           `json:"message"`
}

// CancelResponse is returned by POST /cancel
type CancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message"`
}

// ResultsResponse is returned by GET /results
type ResultsResponse struct {
	Results        []domain.TestResult      `json:"results"`
	Classification *classify.Classification `json:"classification,omitempty"`
	Scan           *domain.ScanReport       `json:"scan,omitempty"`
}

// ErrorResponse for error cases
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Controller defines operations needed from the supervisor
type Controller interface {
	StartBenchmark(cfg domain.BenchmarkConfig) error
	StartScan(cfg vram.ScanConfig) error
	Cancel() bool
	Status() services.Status
	Results() []domain.TestResult
	ScanReport() *domain.ScanReport
	Classification() (classify.Classification, bool)
}

var _ Controller = (*services.Supervisor)(nil)

// Handler handles HTTP requests for benchmark and scan jobs
type Handler struct {
	ctrl      Controller
	benchBase domain.BenchmarkConfig
	scanBase  vram.ScanConfig
	log       *zap.Logger
}

// NewHandler creates a new handler. Requests override fields of benchBase and scanBase.
func NewHandler(ctrl Controller, benchBase domain.BenchmarkConfig, scanBase vram.ScanConfig, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		ctrl:      ctrl,
		benchBase: benchBase,
		scanBase:  scanBase,
		log:       log,
	}
}

// Register mounts the routes on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/benchmark/start", h.HandleStartBenchmark)
	mux.HandleFunc("/scan/start", h.HandleStartScan)
	mux.HandleFunc("/cancel", h.HandleCancel)
	mux.HandleFunc("/status", h.HandleStatus)
	mux.HandleFunc("/results", h.HandleResults)
	mux.HandleFunc("/health", h.HandleHealth)
}

// HandleStartBenchmark handles POST /benchmark/start
func (h *Handler) HandleStartBenchmark(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}

	var req StartBenchmarkRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg := h.benchBase
	if req.BufferSize > 0 {
		cfg.BufferSize = req.BufferSize
	}
	if req.CopiesPerBatch > 0 {
		cfg.CopiesPerBatch = req.CopiesPerBatch
	}
	if req.BatchCount > 0 {
		cfg.BatchCount = req.BatchCount
	}
	if req.IterationCount > 0 {
		cfg.IterationCount = req.IterationCount
	}
	if req.RunCount > 0 {
		cfg.RunCount = req.RunCount
	}
	if req.Bidirectional != nil {
		cfg.EnableBidirectional = *req.Bidirectional
	}
	if req.Latency != nil {
		cfg.EnableLatency = *req.Latency
	}

	if err := h.ctrl.StartBenchmark(cfg); err != nil {
		h.writeStartError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, StartResponse{Kind: services.JobBenchmark, Message: "benchmark started"})
}

// HandleStartScan handles POST /scan/start
func (h *Handler) HandleStartScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}

	var req StartScanRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg := h.scanBase
	cfg.FullScan = cfg.FullScan || req.FullScan
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}

	if err := h.ctrl.StartScan(cfg); err != nil {
		h.writeStartError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, StartResponse{Kind: services.JobScan, Message: "vram scan started"})
}

// HandleCancel handles POST /cancel
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}

	if !h.ctrl.Cancel() {
		h.writeError(w, http.StatusConflict, "no job running", "NOT_RUNNING")
		return
	}
	h.writeJSON(w, http.StatusAccepted, CancelResponse{
		Cancelled: true,
		Message:   "cancellation requested, partial results are kept",
	})
}

// HandleStatus handles GET /status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	h.writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// HandleResults handles GET /results
func (h *Handler) HandleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}

	resp := ResultsResponse{
		Results: h.ctrl.Results(),
		Scan:    h.ctrl.ScanReport(),
	}
	if c, ok := h.ctrl.Classification(); ok {
		resp.Classification = &c
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads an optional JSON body. An empty body keeps the zero request.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return false
	}
	return true
}

func (h *Handler) writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRunActive):
		h.writeError(w, http.StatusConflict, "a benchmark or scan is already running", "RUN_ACTIVE")
	case errors.Is(err, domain.ErrInvalidCfg):
		h.writeError(w, http.StatusBadRequest, err.Error(), "INVALID_CONFIG")
	default:
		h.log.Error("failed to start job", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Warn("failed to encode response", zap.Error(err))
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
