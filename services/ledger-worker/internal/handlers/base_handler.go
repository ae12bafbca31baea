package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

// Pinger reports store connectivity. *database.DB implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type BaseHandler struct {
	logger *zap.Logger
	db     Pinger
}

func NewBaseHandler(logger *zap.Logger, db Pinger) *BaseHandler {
	return &BaseHandler{logger: logger, db: db}
}

func (b *BaseHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", b.GetHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (b *BaseHandler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()
	if err := b.db.Ping(ctx); err != nil {
		b.logger.Warn("health_check_failed", zap.String(pkg.TraceId, c.GetString(pkg.TraceId)), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
