package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/internal/infrastructure/monitoring"
	apperrors "pairlink/pkg/errors"
	ctxlog "pairlink/pkg/logger"
	"pairlink/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RelayHandler is the stateless poll binding. Every signaling verb arrives as
// a POST to /signal; clients without a socket poll get-answer/get-candidate
// through it.
type RelayHandler struct {
	signal   ports.SignalService
	health   *monitoring.HealthChecker
	registry *prometheus.Registry
	logger   *zap.SugaredLogger
	ctxLog   *ctxlog.ContextLogger
	maxBody  int64
}

func NewRelayHandler(
	signal ports.SignalService,
	health *monitoring.HealthChecker,
	registry *prometheus.Registry,
	logger *zap.SugaredLogger,
	maxBody int64,
) *RelayHandler {
	return &RelayHandler{
		signal:   signal,
		health:   health,
		registry: registry,
		logger:   logger,
		ctxLog:   ctxlog.NewContextLogger(logger.Desugar()),
		maxBody:  maxBody,
	}
}

func (h *RelayHandler) SetupRoutes(router *gin.Engine) {
	router.HandleMethodNotAllowed = true

	router.POST("/signal", h.HandleSignal)
	router.GET("/health", h.Health)

	if h.registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})))
	}

	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"success": false,
			"error":   "method not allowed",
		})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "not found",
		})
	})
}

func (h *RelayHandler) HandleSignal(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)
	data, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(c, apperrors.NewProtocolError("message exceeds size limit"))
			return
		}
		h.writeError(c, apperrors.NewProtocolError("failed to read request body"))
		return
	}

	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.writeError(c, apperrors.NewProtocolError("malformed signaling message"))
		return
	}

	ctx := ctxlog.WithRequestID(c.Request.Context(), utils.GenerateRequestID())
	ctx = ctxlog.WithSessionID(ctx, string(env.SessionID))

	resp, err := h.signal.HandleMessage(ctx, env)
	if err != nil {
		appErr := apperrors.GetAppError(err)
		if appErr == nil {
			h.ctxLog.LogError(ctx, err, "signal handling failed",
				zap.String("type", string(env.Type)),
			)
			appErr = apperrors.NewInternalError("internal server error")
		}
		h.writeError(c, appErr)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *RelayHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *RelayHandler) writeError(c *gin.Context, appErr *apperrors.AppError) {
	resp := domain.Response{
		Success: false,
		Error:   appErr.Message,
	}
	if retryAfter, ok := appErr.Context["retryAfter"].(int); ok {
		resp.RetryAfter = retryAfter
	}
	c.JSON(appErr.HTTPStatus, resp)
}
