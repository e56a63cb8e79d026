package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"votebridge/pkg/connector"
)

type initializeRequest struct {
	Credential      string `json:"credential"`
	ContractAddress string `json:"contractAddress"`
	EndpointURL     string `json:"endpointUrl"`
	UseMock         bool   `json:"useMock"`
}

func statusFields(st connector.Status) gin.H {
	return gin.H{
		"initialized":     st.Initialized,
		"connected":       st.Connected,
		"usingMock":       st.UsingMock,
		"endpoint":        st.Endpoint,
		"identity":        st.Identity,
		"contractAddress": st.ContractAddress,
		"chainId":         st.ChainID,
		"state":           st.State,
		"fallbackReason":  st.FallbackReason,
	}
}

func (s *Server) initialize(c *gin.Context) {
	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errInvalidRequest)
		return
	}

	st, err := s.deps.Connector.Initialize(c.Request.Context(), connector.Options{
		PrivateKey:      req.Credential,
		ContractAddress: req.ContractAddress,
		RPCURL:          req.EndpointURL,
		UseMock:         req.UseMock,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	s.logger.Info("Ledger initialized via API",
		zap.String("requestID", requestID(c)),
		zap.String("admin", c.GetString(adminSubjectKey)),
		zap.String("state", string(st.State)))

	ok(c, http.StatusOK, gin.H{
		"initialized": st.Initialized,
		"status":      st,
	})
}

// status never reports 503; it describes the connector whatever its state
func (s *Server) status(c *gin.Context) {
	fields := statusFields(s.deps.Connector.Status())
	if s.deps.Scheduler != nil {
		fields["scheduler"] = s.deps.Scheduler.Stats()
	}
	ok(c, http.StatusOK, fields)
}

func (s *Server) health(c *gin.Context) {
	fields := gin.H{
		"status": "ok",
		"ledger": s.deps.Connector.Status().State,
	}
	if s.deps.DBHealthy != nil {
		if !s.deps.DBHealthy(c.Request.Context()) {
			s.fail(c, fmt.Errorf("%w: database unreachable", errUnavailable))
			return
		}
		fields["database"] = "up"
	}
	ok(c, http.StatusOK, fields)
}
