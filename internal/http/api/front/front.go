// Package front wires the caller-facing session and token routes.
package front

import (
	"github.com/equilens/equilens/internal/http/api/front/handlers"
	"github.com/equilens/equilens/internal/ledger"
	"github.com/equilens/equilens/internal/queue"
	"github.com/equilens/equilens/internal/session"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterFrontRoutes registers the session lifecycle and token account routes.
func RegisterFrontRoutes(r *gin.Engine, db *gorm.DB, sessions *session.Store, tokens *ledger.Service, reportLane *queue.Lane[queue.ReportJob]) {
	if r == nil || db == nil {
		return
	}

	v0 := r.Group("/v0")

	sessionHandler := handlers.NewSessionHandler(sessions)
	v0.POST("/sessions", sessionHandler.Submit)
	v0.GET("/sessions/:id", sessionHandler.Get)
	v0.POST("/sessions/:id/cancel", sessionHandler.Cancel)
	v0.POST("/sessions/:id/retry", sessionHandler.Retry)
	v0.DELETE("/sessions/:id", sessionHandler.Delete)

	reportHandler := handlers.NewReportHandler(db, sessions, reportLane)
	v0.POST("/sessions/:id/reports", reportHandler.Create)

	tokenHandler := handlers.NewTokenHandler(tokens)
	v0.GET("/organizations/:id/balance", tokenHandler.Balance)
	v0.GET("/organizations/:id/transactions", tokenHandler.Transactions)
	v0.POST("/organizations/:id/credits", tokenHandler.Credit)
	v0.GET("/organizations/:id/sessions", sessionHandler.List)
}
