package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"milestone-reconciler/internal/auth"
	"milestone-reconciler/pkg/logger"
	"milestone-reconciler/pkg/metrics"
	"milestone-reconciler/pkg/trace"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TraceMiddleware 为每个请求注入 trace_id，并在响应头中回写
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := trace.FromRequest(c.Request)
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Header(trace.HeaderName(), traceID)
		c.Next()
	}
}

// RequestLogger 请求日志 + HTTP 延迟指标
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), latency)

		logger.WithTrace(c.Request.Context(), log).Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// Guard builds the authentication middlewares. Failed attempts are counted per
// scope and client IP; a client over the limit gets 429 before its
// credentials are looked at.
type Guard struct {
	limiter auth.AttemptLimiter
	logger  *zap.Logger
}

func NewGuard(limiter auth.AttemptLimiter, logger *zap.Logger) *Guard {
	if limiter == nil {
		limiter = auth.NoopLimiter{}
	}
	return &Guard{limiter: limiter, logger: logger}
}

// RequireSecret 要求 Authorization: Bearer <secret>，secret 未配置时放行
func (g *Guard) RequireSecret(scope string, secret auth.SharedSecret) gin.HandlerFunc {
	return g.check(scope, func(c *gin.Context) error {
		return secret.Verify(auth.BearerToken(c.Request))
	})
}

// RequireToken 要求有效的用户 JWT，并把 user_id 写入 gin context；未配置 jwt_secret 时放行
func (g *Guard) RequireToken(scope string, tokens *auth.TokenVerifier) gin.HandlerFunc {
	return g.check(scope, func(c *gin.Context) error {
		if !tokens.Enabled() {
			return nil
		}
		userID, err := tokens.Verify(auth.BearerToken(c.Request))
		if err != nil {
			return err
		}
		c.Set("user_id", userID)
		return nil
	})
}

// RequireSecretOrToken accepts either the shared secret or a valid user token.
// The endpoint is open only when neither is configured.
func (g *Guard) RequireSecretOrToken(scope string, secret auth.SharedSecret, tokens *auth.TokenVerifier) gin.HandlerFunc {
	return g.check(scope, func(c *gin.Context) error {
		if !secret.Enabled() && !tokens.Enabled() {
			return nil
		}
		bearer := auth.BearerToken(c.Request)
		if bearer == "" {
			return auth.ErrMissingCredentials
		}
		if secret.Enabled() && secret.Verify(bearer) == nil {
			return nil
		}
		if tokens.Enabled() {
			userID, err := tokens.Verify(bearer)
			if err == nil {
				c.Set("user_id", userID)
				return nil
			}
		}
		return auth.ErrInvalidCredentials
	})
}

func (g *Guard) check(scope string, verify func(c *gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := scope + ":" + c.ClientIP()
		log := logger.WithTrace(ctx, g.logger)

		if g.limiter.Blocked(ctx, key) {
			metrics.IncrementAuthFailure(scope, "locked_out")
			log.Warn("Too many failed authentication attempts",
				zap.String("scope", scope),
				zap.String("client_ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many failed attempts"})
			return
		}

		if err := verify(c); err != nil {
			reason := "invalid"
			if errors.Is(err, auth.ErrMissingCredentials) {
				reason = "missing"
			}
			g.limiter.RecordFailure(ctx, key)
			metrics.IncrementAuthFailure(scope, reason)
			log.Warn("Unauthorized request",
				zap.String("scope", scope),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Next()
	}
}
