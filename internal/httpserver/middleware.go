package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trustfund/internal/handler"
	"trustfund/internal/util"
	"trustfund/pkg/logger"
	"trustfund/pkg/metrics"
	"trustfund/pkg/rbac"
	"trustfund/pkg/trace"
	pkgutil "trustfund/pkg/util"
)

// IdempotencyHeader 客户端重试写请求时携带的幂等键
const IdempotencyHeader = "Idempotency-Key"

// TraceMiddleware 为每个请求建立 trace_id 并回写到响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := trace.FromHeader(c.GetHeader(trace.HeaderName), c.GetHeader("X-Request-ID"))
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Header(trace.HeaderName, traceID)
		c.Next()
	}
}

// RequestLogMiddleware 请求日志 + HTTP 指标
func RequestLogMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, route, strconv.Itoa(status), latency)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		l := logger.WithTrace(c.Request.Context(), log)
		if status >= http.StatusInternalServerError {
			l.Error("HTTP Request", fields...)
			return
		}
		l.Info("HTTP Request", fields...)
	}
}

func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorResponse{Error: "Unauthenticated", Message: "missing token"})
			return
		}

		claims, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorResponse{Error: "Unauthenticated", Message: "invalid token"})
			return
		}

		// store identity in context so handlers can use it
		c.Set(handler.ContextSubjectKey, claims.Subject)
		c.Set(handler.ContextRoleKey, claims.Role)

		c.Next()
	}
}

// RequirePermission 中间件：要求调用者角色具有指定权限
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(handler.ContextRoleKey)
		if role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ErrorResponse{Error: "Unauthenticated", Message: "user not authenticated"})
			return
		}

		if err := rbac.CheckPermission(role, permission); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, handler.ErrorResponse{Error: "Forbidden", Message: err.Error()})
			return
		}

		c.Next()
	}
}

// IdempotencyMiddleware 同一调用者重复提交同一 Idempotency-Key 时直接拒绝。
// 只有 2xx 才占用该键：失败的请求整体回滚，修正后可用同一个键重新提交。
// deduper 为 nil 时不做处理
func IdempotencyMiddleware(deduper *pkgutil.Deduper) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if deduper == nil || key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		scope := "http:" + c.GetString(handler.ContextSubjectKey)
		if !deduper.AcquireOnce(ctx, scope, key) {
			c.AbortWithStatusJSON(http.StatusConflict, handler.ErrorResponse{
				Error:   "DuplicateRequest",
				Message: "request with this Idempotency-Key was already processed",
			})
			return
		}

		c.Next()

		if status := c.Writer.Status(); status < http.StatusOK || status >= http.StatusMultipleChoices {
			deduper.Release(ctx, scope, key)
		}
	}
}
