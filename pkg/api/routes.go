package api

import (
	"github.com/gin-gonic/gin"
)

func (s *Server) routes() {
	r := s.engine
	r.Use(withRequestID(), s.recovery(), accessLog(s.logger))

	admin := s.adminGuard(s.deps.Tokens)

	r.GET("/healthz", s.health)

	sessions := r.Group("/sessions")
	{
		sessions.POST("/create", s.createSession)
		sessions.POST("/:id/end", s.endSession)
		sessions.GET("/:id/active", s.sessionActive)
		sessions.GET("/:id/vote-mode", s.sessionVoteMode)
		sessions.GET("/:id/results", s.sessionResults)
		sessions.GET("/:id/choices", s.sessionChoices)
		sessions.POST("/:id/reconcile", s.reconcileSession)

		sessions.POST("/schedule", admin, s.scheduleSession)
		sessions.GET("/:id/schedule", admin, s.sessionSchedule)
		sessions.DELETE("/:id/schedule", admin, s.cancelSchedule)
	}

	votes := r.Group("/vote")
	{
		votes.POST("/cast", s.limitByIP(), s.castVote)
		votes.GET("/:sessionId/:voterId/has-voted", s.hasVoted)
	}

	status := r.Group("/status")
	{
		status.GET("", s.status)
		status.POST("/initialize", admin, s.initialize)
	}

	r.NoRoute(func(c *gin.Context) {
		s.fail(c, errRouteNotFound)
	})
}
