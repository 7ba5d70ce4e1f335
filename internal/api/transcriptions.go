package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/kikitori/internal/media"
)

// TranscriptionHandler exposes the upload job API.
type TranscriptionHandler struct {
	jobs        *JobManager
	uploadDir   string
	maxUploadMB int64
	log         zerolog.Logger
}

// NewTranscriptionHandler creates the handler. Uploaded files are spooled to
// uploadDir until their job finishes.
func NewTranscriptionHandler(jobs *JobManager, uploadDir string, maxUploadMB int64, log zerolog.Logger) *TranscriptionHandler {
	return &TranscriptionHandler{
		jobs:        jobs,
		uploadDir:   uploadDir,
		maxUploadMB: maxUploadMB,
		log:         log.With().Str("handler", "transcriptions").Logger(),
	}
}

// Routes registers the transcription endpoints.
func (h *TranscriptionHandler) Routes(r chi.Router) {
	r.Post("/transcriptions", h.Create)
	r.Get("/transcriptions/{id}", h.Status)
	r.Get("/transcriptions/{id}/text", h.Text)
}

// Create handles POST /api/v1/transcriptions. Accepts a multipart form with
// a "file" field and answers 202 with the new job's id.
func (h *TranscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.maxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !media.IsMediaFile(filename) {
		WriteErrorDetail(w, http.StatusUnsupportedMediaType,
			"unsupported file type", fmt.Sprintf("%s is not a recognized audio or video file", filename))
		return
	}

	spooled, err := h.spool(file, filename)
	if err != nil {
		h.log.Error().Err(err).Str("filename", filename).Msg("upload spool failed")
		WriteError(w, http.StatusInternalServerError, "could not store upload")
		return
	}

	job, err := h.jobs.Enqueue(filename, spooled)
	if err != nil {
		os.Remove(spooled)
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.log.Info().Str("job_id", job.ID).Str("filename", filename).Msg("upload accepted")
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"id":     job.ID,
		"status": job.Status,
	})
}

// Status handles GET /api/v1/transcriptions/{id}.
func (h *TranscriptionHandler) Status(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// Text handles GET /api/v1/transcriptions/{id}/text. 404 until the job is
// done.
func (h *TranscriptionHandler) Text(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.jobs.Get(id); !ok {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	text, ok := h.jobs.Transcript(id)
	if !ok {
		WriteError(w, http.StatusNotFound, "transcript not ready")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, text)
}

// spool copies the uploaded stream to the upload directory under a unique
// name that keeps the original extension for format detection.
func (h *TranscriptionHandler) spool(src io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", err
	}
	dst, err := os.CreateTemp(h.uploadDir, "upload-*"+filepath.Ext(filename))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}
