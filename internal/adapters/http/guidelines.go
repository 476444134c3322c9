package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

type ingestRequest struct {
	Documents []domain.DocumentInput `json:"documents"`
}

// uploadMetadataFields are copied from multipart form values into guideline metadata.
var uploadMetadataFields = []string{domain.MetaSociety, domain.MetaYear, domain.MetaTitle, domain.MetaTopic}

func (rt *Router) listGuidelines(w http.ResponseWriter, r *http.Request) {
	status := rt.deps.Inspector.Status()
	servedGeneration(w, r, status.Generation)
	guidelines := status.Guidelines
	if guidelines == nil {
		guidelines = []domain.ManifestEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generation": status.Generation,
		"guidelines": guidelines,
	})
}

func (rt *Router) ingestGuidelines(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !rt.decodeJSON(w, r, &req) {
		return
	}

	report, err := rt.deps.Ingestor.Ingest(r.Context(), req.Documents)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.deps.Observer != nil {
		rt.deps.Observer.SetSnapshot(rt.deps.Inspector.Status())
	}
	servedGeneration(w, r, report.Generation)
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) removeGuideline(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	report, err := rt.deps.Ingestor.Remove(r.Context(), []string{id})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.deps.Observer != nil {
		rt.deps.Observer.SetSnapshot(rt.deps.Inspector.Status())
	}
	servedGeneration(w, r, report.Generation)
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) getGuideline(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Reader == nil {
		writeProblem(w, r, errorClass{http.StatusNotImplemented, "not_configured"}, "guideline registry is not configured")
		return
	}
	g, err := rt.deps.Reader.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (rt *Router) uploadGuideline(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Uploader == nil {
		writeProblem(w, r, errorClass{http.StatusNotImplemented, "not_configured"}, "guideline upload is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, r, errorClass{http.StatusRequestEntityTooLarge, "payload_too_large"}, "upload too large")
			return
		}
		writeProblem(w, r, errorClass{http.StatusBadRequest, "invalid_input"}, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	metadata, err := uploadMetadata(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	g, err := rt.deps.Uploader.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		metadata,
		file,
	)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, g)
}

// uploadMetadata merges a JSON "metadata" form value with the well-known
// fields; the explicit fields win.
func uploadMetadata(r *http.Request) (map[string]string, error) {
	metadata := map[string]string{}
	if raw := strings.TrimSpace(r.FormValue("metadata")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return nil, domain.InvalidInput("upload guideline", "metadata must be a JSON object of strings: %v", err)
		}
	}
	for _, key := range uploadMetadataFields {
		if v := strings.TrimSpace(r.FormValue(key)); v != "" {
			metadata[key] = v
		}
	}
	return metadata, nil
}
