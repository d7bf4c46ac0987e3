package http

import (
	"github.com/gin-gonic/gin"

	"github.com/arkrelay/gateway/ceremony"
	"github.com/arkrelay/gateway/ledger"
	"github.com/arkrelay/gateway/session"
)

// SetupRouter sets up the Gin router
func SetupRouter(sessions *session.Manager, orchestrator *ceremony.Orchestrator, ledgerMgr *ledger.Manager) *gin.Engine {
	router := gin.Default()

	handlers := NewGatewayHandlers(sessions, orchestrator, ledgerMgr)

	sess := router.Group("/sessions")
	{
		sess.POST("", handlers.CreateSession)
		sess.GET("/:id", handlers.GetSession)
		sess.POST("/:id/start", handlers.StartCeremony)
		sess.GET("/:id/status", handlers.CeremonyStatus)
		sess.POST("/:id/response", handlers.SubmitResponse)
	}

	assets := router.Group("/assets")
	{
		assets.POST("", handlers.CreateAsset)
	}

	router.GET("/balances/:pubkey", handlers.Balances)
	router.POST("/vtxos", handlers.ManageVtxos)

	return router
}
