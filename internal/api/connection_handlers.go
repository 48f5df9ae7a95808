package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/accountlink/internal/connection"
	idgen "github.com/JakeFAU/accountlink/internal/id/uuid"
	"github.com/JakeFAU/accountlink/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type summaryDTO struct {
	Message       string  `json:"message,omitempty"`
	Progress      float64 `json:"progress"`
	Indeterminate bool    `json:"indeterminate"`
	Count         int     `json:"count"`
}

type busyDTO struct {
	Description string  `json:"description,omitempty"`
	Fraction    float64 `json:"fraction"`
}

type authFailureDTO struct {
	Title         string `json:"title"`
	Message       string `json:"message"`
	HasEditOption bool   `json:"has_edit_option"`
}

type connectionDTO struct {
	AccountID   string          `json:"account_id"`
	Status      string          `json:"status"`
	Active      bool            `json:"active"`
	Consumers   int             `json:"consumers"`
	Summary     *summaryDTO     `json:"summary,omitempty"`
	Busy        *busyDTO        `json:"busy,omitempty"`
	AuthFailure *authFailureDTO `json:"auth_failure,omitempty"`
}

type transitionDTO struct {
	Status   string    `json:"status"`
	Previous string    `json:"previous,omitempty"`
	At       time.Time `json:"at"`
	Note     *string   `json:"note,omitempty"`
}

// listConnections handles GET /v1/connections?active=true. It returns
// {"connections": [...]} ordered by account ID.
func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, http.StatusServiceUnavailable, "connection pool unavailable")
		return
	}
	conns := s.registry.Connections()
	if active := r.URL.Query().Get("active"); active != "" {
		want, err := strconv.ParseBool(active)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid active filter")
			return
		}
		if want {
			conns = s.registry.ActiveConnections()
		}
	}
	out := make([]connectionDTO, 0, len(conns))
	for _, c := range conns {
		out = append(out, s.toConnectionDTO(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": out})
}

// getConnection handles GET /v1/connections/{account_id}. It returns 404 when
// the pool has never seen the account.
func (s *Server) getConnection(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection": s.toConnectionDTO(c)})
}

// connect handles POST /v1/connections/{account_id}/connect[?async=true].
// The synchronous form answers 200 once a core is held, 502 when acquisition
// fails, or 504 when the request deadline passes first; the attempt itself
// keeps running either way. The async form answers 202 immediately.
func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, http.StatusServiceUnavailable, "connection pool unavailable")
		return
	}
	accountID, err := parseAccountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.limiter != nil && !s.limiter.Allow(accountID) {
		writeError(w, http.StatusTooManyRequests, "connect rate limit exceeded")
		return
	}
	c := s.registry.Connection(accountID)
	if r.URL.Query().Get("async") == "true" {
		c.ConnectAsync(nil, func(err error) {
			if err != nil {
				s.logger.Warn("async connect failed", zap.Stringer("account_id", accountID), zap.Error(err))
			}
		})
		writeJSON(w, http.StatusAccepted, map[string]any{"connection": s.toConnectionDTO(c)})
		return
	}
	if err := c.Connect(r.Context(), nil); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection": s.toConnectionDTO(c)})
}

// disconnect handles POST /v1/connections/{account_id}/disconnect.
func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := c.Disconnect(r.Context(), nil); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection": s.toConnectionDTO(c)})
}

// listHistory handles GET /v1/connections/{account_id}/history?limit=&offset=.
// It returns {"transitions": [...]} newest first, or 503 without a store.
func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "status history unavailable")
		return
	}
	accountID, err := parseAccountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	transitions, err := s.history.ListTransitions(r.Context(), accountID, limit, offset)
	if err != nil {
		s.logger.Error("list transitions failed", zap.Stringer("account_id", accountID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list transitions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": toTransitionDTOs(transitions)})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*connection.Connection, bool) {
	if s.registry == nil {
		writeError(w, http.StatusServiceUnavailable, "connection pool unavailable")
		return nil, false
	}
	accountID, err := parseAccountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	c, ok := s.registry.Lookup(accountID)
	if !ok {
		writeError(w, http.StatusNotFound, "connection not found")
		return nil, false
	}
	return c, true
}

func (s *Server) toConnectionDTO(c *connection.Connection) connectionDTO {
	status := c.Status()
	dto := connectionDTO{
		AccountID: c.AccountID().String(),
		Status:    string(status),
		Active:    status.Active(),
		Consumers: len(c.Consumers()),
	}
	if rs := c.RichStatus(); rs != nil {
		if rs.Summary != nil {
			dto.Summary = &summaryDTO{
				Message:       rs.Summary.Message,
				Progress:      rs.Summary.Progress,
				Indeterminate: rs.Summary.Indeterminate,
				Count:         rs.Summary.Count,
			}
		}
		if rs.Busy != nil {
			dto.Busy = &busyDTO{Description: rs.Busy.Description(), Fraction: rs.Busy.FractionCompleted()}
		}
	}
	if wd, ok := s.registry.Watchdog(c.AccountID()); ok {
		if f := wd.Failure(); f != nil && status == connection.StatusAuthenticationError {
			dto.AuthFailure = &authFailureDTO{Title: f.Title, Message: f.Message, HasEditOption: f.HasEditOption}
		}
	}
	return dto
}

func toTransitionDTOs(in []store.Transition) []transitionDTO {
	out := make([]transitionDTO, 0, len(in))
	for _, t := range in {
		out = append(out, transitionDTO{Status: t.Status, Previous: t.Previous, At: t.At, Note: t.Note})
	}
	return out
}

func writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, connection.ErrCoreAcquisition):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseAccountID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "account_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("account_id is required")
	}
	id, err := idgen.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid account_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
