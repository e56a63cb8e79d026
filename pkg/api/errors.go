package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"votebridge/pkg/connector"
	"votebridge/pkg/data"
	"votebridge/pkg/ledger"
	"votebridge/pkg/scheduler"
	"votebridge/pkg/votemode"
)

// Stable machine-readable error codes
const (
	CodeNotInitialized = "ledger_not_initialized"
	CodeInvalidRequest = "invalid_request"
	CodeUnknownMode    = "unknown_vote_mode"
	CodeInvalidVote    = "invalid_vote"
	CodeInvalidConfig  = "invalid_config"
	CodeNotFound       = "session_not_found"
	CodeRegistered     = "already_registered"
	CodeAlreadyVoted   = "already_voted"
	CodeNotActive      = "session_not_active"
	CodeStillActive    = "session_active"
	CodeRateLimited    = "rate_limited"
	CodeUnauthorized   = "unauthorized"
	CodeUnavailable    = "service_unavailable"
	CodeRouteNotFound  = "not_found"
	CodeLedgerError    = "ledger_error"
	CodeInternal       = "internal_error"
)

var (
	errInvalidRequest = errors.New("invalid request")
	errUnauthorized   = errors.New("unauthorized")
	errRateLimited    = errors.New("too many requests")
	errSessionActive  = errors.New("session is still active")
	errUnavailable    = errors.New("service not configured")
	errRouteNotFound  = errors.New("route not found")
	errPanic          = errors.New("internal server error")
)

type errorClass struct {
	target error
	status int
	code   string
}

// Checked in order; wrapped errors match their most specific class first
var errorClasses = []errorClass{
	{connector.ErrNotInitialized, http.StatusServiceUnavailable, CodeNotInitialized},
	{connector.ErrInvalidConfig, http.StatusBadRequest, CodeInvalidConfig},
	{errInvalidRequest, http.StatusBadRequest, CodeInvalidRequest},
	{votemode.ErrUnknownModeName, http.StatusBadRequest, CodeUnknownMode},
	{votemode.ErrUnknownModeCode, http.StatusBadRequest, CodeUnknownMode},
	{ledger.ErrInvalidMode, http.StatusBadRequest, CodeUnknownMode},
	{ledger.ErrInvalidVote, http.StatusBadRequest, CodeInvalidVote},
	{ledger.ErrInvalidChoice, http.StatusBadRequest, CodeInvalidVote},
	{ledger.ErrTooManyChoices, http.StatusBadRequest, CodeInvalidVote},
	{ledger.ErrInvalidSession, http.StatusBadRequest, CodeInvalidRequest},
	{data.ErrInvalidSession, http.StatusBadRequest, CodeInvalidRequest},
	{scheduler.ErrInvalidSession, http.StatusBadRequest, CodeInvalidRequest},
	{ledger.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{data.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{ledger.ErrAlreadyRegistered, http.StatusConflict, CodeRegistered},
	{data.ErrDuplicate, http.StatusConflict, CodeRegistered},
	{ledger.ErrAlreadyVoted, http.StatusConflict, CodeAlreadyVoted},
	{ledger.ErrNotActive, http.StatusConflict, CodeNotActive},
	{errSessionActive, http.StatusConflict, CodeStillActive},
	{errRateLimited, http.StatusTooManyRequests, CodeRateLimited},
	{errUnauthorized, http.StatusUnauthorized, CodeUnauthorized},
	{errUnavailable, http.StatusServiceUnavailable, CodeUnavailable},
	{scheduler.ErrStopped, http.StatusServiceUnavailable, CodeUnavailable},
	{errRouteNotFound, http.StatusNotFound, CodeRouteNotFound},
	{errPanic, http.StatusInternalServerError, CodeInternal},
}

// classify maps an error to an HTTP status, a stable code and a message
// that is safe to return to clients
func classify(err error) (int, string, string) {
	for _, ec := range errorClasses {
		if errors.Is(err, ec.target) {
			return ec.status, ec.code, err.Error()
		}
	}
	return http.StatusInternalServerError, CodeLedgerError, "ledger request failed"
}

// ok writes a success envelope
func ok(c *gin.Context, status int, fields gin.H) {
	if fields == nil {
		fields = gin.H{}
	}
	fields["success"] = true
	c.JSON(status, fields)
}

// fail writes an error envelope and aborts the handler chain
func (s *Server) fail(c *gin.Context, err error) {
	status, code, message := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("requestID", requestID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   code,
		"message": message,
	})
}
