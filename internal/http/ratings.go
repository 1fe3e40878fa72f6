package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Clark-Hu/triage-ratings/internal/domain"
	"github.com/Clark-Hu/triage-ratings/internal/rating"
)

const (
	maxRequestBody      = 1 << 20 // 1 MiB
	defaultSimilarLimit = 5
	maxSimilarLimit     = 50
)

type errorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type ratingRequest struct {
	Name    string `json:"name"`
	Comment string `json:"comment"`
	Score   int    `json:"score"`
	Store   string `json:"store"`
}

type ratingResponse struct {
	ID               string    `json:"id"`
	Origin           string    `json:"origin"`
	Name             string    `json:"name"`
	Comment          string    `json:"comment"`
	Score            int       `json:"score"`
	CreatedAt        time.Time `json:"createdAt"`
	CreatedAtDisplay string    `json:"createdAtDisplay"`
}

type ratingListResponse struct {
	Items   []ratingResponse      `json:"items"`
	Stats   domain.RatingReport   `json:"stats"`
	Partial bool                  `json:"partial"`
	Errors  []sourceErrorResponse `json:"errors,omitempty"`
}

type sourceErrorResponse struct {
	Origin  string `json:"origin"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type statsResponse struct {
	domain.RatingReport
	Partial bool `json:"partial"`
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	var target domain.Origin
	if raw := strings.TrimSpace(req.Store); raw != "" {
		origin, err := domain.ParseOrigin(raw)
		if err != nil {
			s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
			return
		}
		target = origin
	}

	stored, err := s.ratings.Submit(r.Context(), rating.Submission{
		Name:    req.Name,
		Comment: req.Comment,
		Score:   req.Score,
	}, target)
	if err != nil {
		s.respondFailure(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/stores/%s/ratings/%s", stored.Origin, stored.ID))
	s.respondJSON(w, http.StatusCreated, s.toRatingResponse(stored))
}

func (s *Server) handleListRatings(w http.ResponseWriter, r *http.Request) {
	listing := s.ratings.ListAll(r.Context())

	resp := ratingListResponse{
		Items:   s.toRatingResponses(listing.Ratings),
		Stats:   listing.Report(),
		Partial: listing.Partial(),
	}
	for _, origin := range domain.Origins {
		failure, ok := listing.Failures[origin]
		if !ok {
			continue
		}
		resp.Errors = append(resp.Errors, sourceErrorResponse{
			Origin:  string(origin),
			Code:    errorCode(failure.Kind),
			Message: failure.Message,
		})
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	listing := s.ratings.ListAll(r.Context())
	s.respondJSON(w, http.StatusOK, statsResponse{
		RatingReport: listing.Report(),
		Partial:      listing.Partial(),
	})
}

func (s *Server) handleGetRating(w http.ResponseWriter, r *http.Request) {
	found, err := s.ratings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.toRatingResponse(found))
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	found, err := s.ratings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	similar := s.ratings.Similar(r.Context(), found, limit)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"rating": s.toRatingResponse(found),
		"items":  s.toRatingResponses(similar),
	})
}

func (s *Server) handleListFrom(w http.ResponseWriter, r *http.Request) {
	origin, ok := s.originParam(w, r)
	if !ok {
		return
	}
	ratings, err := s.ratings.ListFrom(r.Context(), origin)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"origin": origin,
		"items":  s.toRatingResponses(ratings),
	})
}

func (s *Server) handleGetFrom(w http.ResponseWriter, r *http.Request) {
	origin, ok := s.originParam(w, r)
	if !ok {
		return
	}
	found, err := s.ratings.GetFrom(r.Context(), origin, chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.toRatingResponse(found))
}

func (s *Server) originParam(w http.ResponseWriter, r *http.Request) (domain.Origin, bool) {
	origin, err := domain.ParseOrigin(chi.URLParam(r, "origin"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return "", false
	}
	return origin, true
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultSimilarLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("invalid limit value")
	}
	if limit > maxSimilarLimit {
		limit = maxSimilarLimit
	}
	return limit, nil
}

func (s *Server) toRatingResponse(r domain.Rating) ratingResponse {
	return ratingResponse{
		ID:               r.ID,
		Origin:           string(r.Origin),
		Name:             r.Name,
		Comment:          r.Comment,
		Score:            r.Score,
		CreatedAt:        r.CreatedAt,
		CreatedAtDisplay: r.CreatedAt.In(s.loc).Format(domain.DisplayLayout),
	}
}

func (s *Server) toRatingResponses(ratings []domain.Rating) []ratingResponse {
	items := make([]ratingResponse, 0, len(ratings))
	for _, r := range ratings {
		items = append(items, s.toRatingResponse(r))
	}
	return items
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Error("failed to encode response", zap.Error(err))
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// respondFailure maps a rating failure onto the error envelope. Causes are
// logged, never echoed.
func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	var failure *domain.Failure
	if !errors.As(err, &failure) {
		s.logger.Error("unclassified error", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected error")
		return
	}

	resp := errorResponse{
		Code:    errorCode(failure.Kind),
		Message: failure.Message,
	}
	if len(failure.Fields) > 0 {
		resp.Details = failure.Fields
	} else if failure.Origin != "" {
		resp.Details = map[string]string{"origin": string(failure.Origin)}
	}
	s.respondJSON(w, statusFor(failure.Kind), resp)
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindEnvironment:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(kind domain.Kind) string {
	switch kind {
	case domain.KindValidation:
		return "VALIDATION_ERROR"
	case domain.KindNotFound:
		return "NOT_FOUND"
	case domain.KindEnvironment:
		return "STORE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	var maxBytesError *http.MaxBytesError
	switch {
	case errors.As(err, &syntaxError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed JSON payload")
	case errors.As(err, &typeError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("Invalid value for field %s", typeError.Field))
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body cannot be empty")
	case errors.As(err, &maxBytesError):
		s.respondError(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "Request body too large")
	default:
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unable to parse request body")
	}
}
