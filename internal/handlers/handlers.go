package handlers

import (
	"embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Brownie44l1/classify-web/internal/feedback"
	"github.com/Brownie44l1/classify-web/internal/metrics"
	"github.com/Brownie44l1/classify-web/internal/model"
	"github.com/Brownie44l1/classify-web/internal/preprocess"
)

//go:embed templates/index.html
var templateFS embed.FS

const defaultMIME = "image/jpeg"

// multipartOverhead is body headroom for boundaries and part headers, so the
// size cap applies to the file itself.
const multipartOverhead = 1 << 20

var (
	errNoFile         = errors.New("no file uploaded")
	errUploadTooLarge = errors.New("upload too large")
)

type Handler struct {
	classifier   model.Classifier
	preprocessor *preprocess.Preprocessor
	feedback     *feedback.Logger
	metrics      *metrics.Metrics
	logger       *slog.Logger
	maxUpload    int64
	tmpl         *template.Template
}

func NewHandler(classifier model.Classifier, feedbackLog *feedback.Logger, m *metrics.Metrics, logger *slog.Logger, maxUpload int64) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	tmpl := template.Must(template.New("index.html").Funcs(template.FuncMap{
		"percent": FormatConfidence,
	}).ParseFS(templateFS, "templates/index.html"))

	return &Handler{
		classifier:   classifier,
		preprocessor: preprocess.ForModel(classifier.Metadata()),
		feedback:     feedbackLog,
		metrics:      m,
		logger:       logger,
		maxUpload:    maxUpload,
		tmpl:         tmpl,
	}
}

type pageData struct {
	ThankYou     bool
	Error        string
	ImageData    template.URL
	Prediction   string
	PredictionID string
	Confidence   string
	Top          []model.ClassScore
}

// Index renders the empty upload form, with a thank-you banner after feedback.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, pageData{ThankYou: r.URL.Query().Get("thank_you") == "1"})
}

// Classify handles a form upload: it predicts the class and renders the
// result page with an inline preview. A missing upload redirects back.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := h.readUpload(w, r, "file")
	if err != nil {
		if isTooLarge(err) {
			h.render(w, http.StatusRequestEntityTooLarge, pageData{
				Error: fmt.Sprintf("Image is too large (limit %d MB).", h.maxUpload>>20),
			})
			return
		}
		http.Redirect(w, r, r.URL.RequestURI(), http.StatusFound)
		return
	}

	pred, err := h.predict(r, data)
	if errors.Is(err, preprocess.ErrUnsupportedImage) {
		h.render(w, http.StatusBadRequest, pageData{Error: "Could not read that file as an image."})
		return
	}
	if err != nil {
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	h.render(w, http.StatusOK, pageData{
		ImageData:    DataURI(data, contentType),
		Prediction:   pred.Class,
		PredictionID: pred.ID,
		Confidence:   FormatConfidence(pred.Confidence),
		Top:          pred.Top,
	})
}

// Feedback appends the user's vote to the feedback log and redirects to the
// form with the thank-you flag.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	if !r.PostForm.Has("predicted_class") || !r.PostForm.Has("feedback") {
		http.Error(w, "predicted_class and feedback are required", http.StatusBadRequest)
		return
	}
	class := r.PostForm.Get("predicted_class")
	vote := r.PostForm.Get("feedback")

	entry, err := h.feedback.Log(class, vote)
	if err != nil {
		h.logger.Error("failed to log feedback", slog.String("error", err.Error()))
		http.Error(w, "Failed to record feedback", http.StatusInternalServerError)
		return
	}
	h.metrics.ObserveFeedback(vote)
	h.logger.Info("feedback recorded",
		slog.String("prediction_id", r.PostForm.Get("prediction_id")),
		slog.String("class", class),
		slog.String("vote", vote),
		slog.Time("timestamp", entry.Timestamp),
	)

	http.Redirect(w, r, "/?thank_you=1", http.StatusFound)
}

// Predict is the JSON variant of Classify for scripted clients.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	data, _, err := h.readUpload(w, r, "file", "image")
	if err != nil {
		if isTooLarge(err) {
			respondError(w, "Image too large", http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, "No image file provided. Use 'file' as the form field name", http.StatusBadRequest)
		return
	}

	pred, err := h.predict(r, data)
	if errors.Is(err, preprocess.ErrUnsupportedImage) {
		respondError(w, "Invalid image format", http.StatusBadRequest)
		return
	}
	if err != nil {
		respondError(w, "Prediction failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, pred, http.StatusOK)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

func (h *Handler) predict(r *http.Request, data []byte) (*model.Prediction, error) {
	start := time.Now()
	input, err := h.preprocessor.Prepare(data)
	if err != nil {
		h.logger.Warn("preprocessing failed", slog.String("error", err.Error()))
		return nil, err
	}

	pred, err := h.classifier.Predict(input)
	if err != nil {
		h.logger.Error("prediction failed", slog.String("error", err.Error()))
		return nil, err
	}
	elapsed := time.Since(start)

	pred.ID = uuid.NewString()
	h.metrics.ObservePrediction(pred.Class, elapsed)
	h.logger.Info("prediction",
		slog.String("prediction_id", pred.ID),
		slog.String("class", pred.Class),
		slog.Float64("confidence", float64(pred.Confidence)),
		slog.Duration("elapsed", elapsed),
		slog.String("remote", r.RemoteAddr),
	)
	return pred, nil
}

// readUpload returns the bytes and content type of the first non-empty file
// among fields.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request, fields ...string) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return nil, "", err
	}

	for _, field := range fields {
		file, header, err := r.FormFile(field)
		if err != nil {
			continue
		}
		if header.Size > h.maxUpload {
			file.Close()
			return nil, "", fmt.Errorf("%w: %d bytes", errUploadTooLarge, header.Size)
		}
		data, err := readAll(file)
		if err != nil {
			return nil, "", err
		}
		if len(data) == 0 {
			continue
		}
		h.logger.Debug("received upload",
			slog.String("filename", header.Filename),
			slog.Int64("size", header.Size),
		)
		return data, header.Header.Get("Content-Type"), nil
	}
	return nil, "", errNoFile
}

func isTooLarge(err error) bool {
	var maxBytes *http.MaxBytesError
	return errors.Is(err, errUploadTooLarge) || errors.As(err, &maxBytes)
}

func readAll(file multipart.File) ([]byte, error) {
	defer file.Close()
	return io.ReadAll(file)
}

// DataURI embeds image bytes for inline display. Non-image content types
// fall back to image/jpeg.
func DataURI(data []byte, contentType string) template.URL {
	mime := strings.TrimSpace(strings.ToLower(contentType))
	if !strings.HasPrefix(mime, "image/") || strings.ContainsAny(mime, ";,\"' ") {
		mime = defaultMIME
	}
	return template.URL("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data))
}

// FormatConfidence renders a probability as a percentage with two decimals.
func FormatConfidence(p float32) string {
	return fmt.Sprintf("%.2f%%", float64(p)*100)
}

func (h *Handler) render(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.tmpl.Execute(w, data); err != nil {
		h.logger.Error("failed to render page", slog.String("error", err.Error()))
	}
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}
