package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/me/rrsched/pkg/model"
)

// requestID generates a unique request identifier.
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

// respondOK writes a success response with the standard envelope.
func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil, nil)
}

// respondList writes a success response with pagination.
func respondList(w http.ResponseWriter, reqID string, data any, pg *model.Pagination) {
	respondJSON(w, http.StatusOK, reqID, data, pg, nil)
}

// respondError writes an error response with the standard envelope.
func respondError(w http.ResponseWriter, reqID string, status int, apiErr *model.APIError) {
	respondJSON(w, status, reqID, nil, nil, apiErr)
}

// respondInternal reports a store failure as a 500.
func respondInternal(w http.ResponseWriter, reqID string, err error) {
	respondError(w, reqID, http.StatusInternalServerError,
		&model.APIError{Code: model.ErrInternal, Message: err.Error()})
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, pg *model.Pagination, apiErr *model.APIError) {
	resp := model.Response{
		RequestID:  reqID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
		Pagination: pg,
		Error:      apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	} else {
		resp.Status = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// parseListOptions reads limit, offset and state from the query string.
func parseListOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()
	var errs []model.FieldError
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, model.FieldError{Field: p.name, Message: "must be a non-negative integer"})
			continue
		}
		*p.dst = n
	}
	if st := model.RunState(q.Get("state")); st != "" {
		switch st {
		case model.RunStatePending, model.RunStateRunning, model.RunStateCompleted, model.RunStateFailed:
			opts.State = st
		default:
			errs = append(errs, model.FieldError{Field: "state", Message: "unknown run state " + string(st)})
		}
	}
	if len(errs) > 0 {
		return opts, model.NewValidationError("invalid query parameters", errs...)
	}
	opts.Clamp()
	return opts, nil
}
