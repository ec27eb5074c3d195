package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/deepfake-api/internal/frame"
	"github.com/Brownie44l1/deepfake-api/internal/model"
	"github.com/Brownie44l1/deepfake-api/internal/pipeline"
	"github.com/Brownie44l1/deepfake-api/internal/score"
	"github.com/Brownie44l1/deepfake-api/internal/tensor"
)

type Handler struct {
	analyzer  *pipeline.Analyzer
	maxUpload int64
	logger    log.FieldLogger
}

func NewHandler(analyzer *pipeline.Analyzer, maxUpload int64, logger log.FieldLogger) *Handler {
	return &Handler{
		analyzer:  analyzer,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

type PredictionRequest struct {
	Tensor []float32 `json:"tensor"`
}

type CalibrationRequest struct {
	Output []float32 `json:"output"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Router wires every endpoint behind the CORS middleware.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(enableCORS)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/analyze", h.Analyze).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/predict", h.Predict).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/calibrate", h.Calibrate).Methods(http.MethodPost, http.MethodOptions)

	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	inference := h.analyzer.Inference
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "healthy",
		"mode":         string(inference.Mode()),
		"model_status": inference.Status(),
	})
}

// Analyze scores an uploaded image or video sent as the multipart field "file".
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, "too_large", fmt.Sprintf("Upload exceeds %d bytes", h.maxUpload), http.StatusRequestEntityTooLarge)
			return
		}
		sendError(w, "invalid_request", "Failed to parse form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		sendError(w, "invalid_request", "No file provided. Use 'file' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	h.logger.WithFields(log.Fields{"file": header.Filename, "size": header.Size}).Debug("received upload")

	result, err := h.analyzer.Analyze(r.Context(), header.Filename, file)
	if err != nil {
		h.sendAnalysisError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Predict scores a tensor the client already built.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req PredictionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUpload)).Decode(&req); err != nil {
		sendError(w, "invalid_json", "Invalid JSON", http.StatusBadRequest)
		return
	}

	if len(req.Tensor) != tensor.Len {
		sendError(w, "invalid_tensor", fmt.Sprintf("Expected %d values, got %d", tensor.Len, len(req.Tensor)), http.StatusBadRequest)
		return
	}

	result, err := h.analyzer.AnalyzeTensor(r.Context(), tensor.Input(req.Tensor))
	if err != nil {
		h.sendAnalysisError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Calibrate maps raw model output straight to a verdict.
func (h *Handler) Calibrate(w http.ResponseWriter, r *http.Request) {
	var req CalibrationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		sendError(w, "invalid_json", "Invalid JSON", http.StatusBadRequest)
		return
	}

	out, err := model.OutputFromRaw(req.Output)
	if err != nil {
		sendError(w, "malformed_output", err.Error(), http.StatusBadRequest)
		return
	}

	risk, err := score.Calibrate(out)
	if err != nil {
		sendError(w, "malformed_output", err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"risk":    risk,
		"verdict": score.Classify(risk),
	})
}

func (h *Handler) sendAnalysisError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, frame.ErrUnsupportedFileType):
		sendError(w, "unsupported_file_type", "Please upload an image or a video file", http.StatusUnsupportedMediaType)
	case errors.Is(err, frame.ErrDecode):
		sendError(w, "decode_failure", "Failed to decode the uploaded media", http.StatusUnprocessableEntity)
	case errors.Is(err, frame.ErrExtractorUnavailable):
		h.logger.WithError(err).Error("video extraction unavailable")
		sendError(w, "video_unavailable", "Video analysis is unavailable on this server", http.StatusInternalServerError)
	case errors.Is(err, tensor.ErrBufferSize):
		sendError(w, "invalid_tensor", err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.DeadlineExceeded):
		sendError(w, "timeout", "Analysis timed out", http.StatusGatewayTimeout)
	default:
		h.logger.WithError(err).Error("analysis failed")
		sendError(w, "analysis_failed", "Analysis failed", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
