package handlers

import (
	"io"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/image-moderation/internal/metrics"
	"github.com/Brownie44l1/image-moderation/internal/middleware"
)

type RouterOptions struct {
	CORSAllowOrigin string
	// Metrics may be nil to disable collection and the metrics route.
	Metrics     *metrics.Collector
	MetricsPath string
	Logger      logrus.FieldLogger
}

func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = h.log
	}

	router := gin.New()
	_ = router.SetTrustedProxies(nil)

	router.Use(middleware.RequestID(), middleware.Logger(opts.Logger))
	if opts.Metrics != nil {
		router.Use(middleware.Metrics(opts.Metrics))
	}
	router.Use(
		gin.CustomRecoveryWithWriter(io.Discard, h.Recovered),
		middleware.CORS(opts.CORSAllowOrigin),
	)

	api := router.Group("/api/v1/moderation")
	api.GET("/", h.Ping)
	api.POST("/moderation", h.Moderate)
	api.POST("/classify", h.Classify)

	router.GET("/health", h.Health)
	if opts.Metrics != nil {
		router.GET(opts.MetricsPath, gin.WrapH(opts.Metrics.Handler()))
	}
	router.NoRoute(h.NotFound)

	return router
}
