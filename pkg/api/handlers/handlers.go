package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cbodonnell/starminers/pkg/api/middleware"
	"github.com/cbodonnell/starminers/pkg/auth"
	"github.com/cbodonnell/starminers/pkg/log"
	"github.com/cbodonnell/starminers/pkg/scouting"
	"github.com/cbodonnell/starminers/pkg/stars"
	"github.com/goccy/go-json"
)

// MaxBodyBytes bounds every request body
const MaxBodyBytes = 1 << 20

// ErrorResponse is the body of every rejected request.
type ErrorResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// userError is implemented by errors whose message is safe to show the caller
type userError interface {
	error
	Message() string
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error("failed to encode response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ue userError
	if errors.As(err, &ue) && (stars.IsAuthorization(err) || stars.IsDataValidation(err)) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Title: "Bad request", Description: ue.Message()})
		return
	}
	log.WithField("request_id", middleware.RequestID(r.Context())).Error("%s %s failed: %v", r.Method, r.URL.Path, err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Title: "Internal server error", Description: "The request could not be completed."})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &stars.DataValidationError{Reason: fmt.Sprintf("body larger than %d bytes", maxErr.Limit)}
		}
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}

// HandleListSightings serves the global merged view in password mode and
// the caller's own sightings in shared key mode.
func HandleListSightings(service *scouting.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential := middleware.Credential(r.Context())
		var sightings []stars.Sighting
		var err error
		if service.Mode() == auth.ModeSharedKey {
			sightings, err = service.ReadOwn(r.Context(), credential)
		} else {
			sightings, err = service.ReadGlobalMerged(r.Context(), credential)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sightings)
	}
}

func HandleSubmitSightings(service *scouting.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential := middleware.Credential(r.Context())
		body, err := readBody(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		result, err := service.Submit(r.Context(), credential, body)
		if err != nil {
			writeError(w, r, err)
			return
		}
		log.Trace("Submission merged: %+v", result)
		w.WriteHeader(http.StatusOK)
	}
}

func HandleAudit(service *scouting.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sightings, err := service.ReadAudit(r.Context(), middleware.Credential(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sightings)
	}
}

func HandleListScouts(service *scouting.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scouts, err := service.ListScouts(r.Context(), middleware.Credential(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, scouts)
	}
}

func HandleAddScout(service *scouting.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := service.AddScout(r.Context(), middleware.Credential(r.Context()), body); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func HandleRemoveScout(service *scouting.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		msg, err := service.RemoveScout(r.Context(), middleware.Credential(r.Context()), body)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, msg)
	}
}
