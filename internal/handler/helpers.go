package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/jwhitfield/chorewheel/internal/apperr"
)

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func parseInt64Param(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps a typed core error onto an HTTP response. Untyped
// errors come out as opaque 500s.
func writeAppError(w http.ResponseWriter, err error) {
	e := apperr.From(err)
	if e == nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var status int
	switch e.Kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindPermission:
		status = http.StatusForbidden
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindStateConflict:
		status = http.StatusConflict
	case apperr.KindResourceExhausted:
		status = http.StatusUnprocessableEntity
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	body := map[string]string{"error": e.Message()}
	if e.Code != "" {
		body["code"] = e.Code
	}
	if e.Field != "" {
		body["field"] = e.Field
	}
	if e.Status != "" {
		body["status"] = e.Status
	}
	writeJSON(w, status, body)
}
