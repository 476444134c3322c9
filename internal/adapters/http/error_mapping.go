package httpadapter

import (
	"net/http"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

// errorClass is the HTTP status and the stable "code" field of an error body.
type errorClass struct {
	status int
	code   string
}

func classifyError(err error) errorClass {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return errorClass{http.StatusBadRequest, "invalid_input"}
	case domain.IsKind(err, domain.ErrUnauthorized):
		return errorClass{http.StatusUnauthorized, "unauthorized"}
	case domain.IsKind(err, domain.ErrGuidelineNotFound):
		return errorClass{http.StatusNotFound, "guideline_not_found"}
	case domain.IsKind(err, domain.ErrSnapshotUnavailable):
		return errorClass{http.StatusServiceUnavailable, "snapshot_unavailable"}
	case domain.IsKind(err, domain.ErrSnapshotConflict):
		return errorClass{http.StatusConflict, "snapshot_conflict"}
	case domain.IsKind(err, domain.ErrTemporary):
		return errorClass{http.StatusServiceUnavailable, "temporary"}
	default:
		return errorClass{http.StatusInternalServerError, "internal"}
	}
}

// writeProblem writes an error body and records its code for the access log.
func writeProblem(w http.ResponseWriter, r *http.Request, class errorClass, msg string) {
	stateFrom(r.Context()).errorCode = class.code
	writeJSON(w, class.status, map[string]string{"error": msg, "code": class.code})
}
