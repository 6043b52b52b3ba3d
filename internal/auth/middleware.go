package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/flybeeper/drone-footprint/pkg/utils"
)

const principalKey = "auth_principal"

// Middleware для аутентификации запросов
type Middleware struct {
	validator *Validator
	logger    *utils.Logger
}

// NewMiddleware создает новый middleware аутентификации
func NewMiddleware(validator *Validator, logger *utils.Logger) *Middleware {
	return &Middleware{
		validator: validator,
		logger:    logger,
	}
}

// Authenticate требует ключ API; без настроенных ключей пропускает все запросы
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.validator.Enabled() {
			c.Next()
			return
		}

		token := extractToken(c)
		principal, err := m.validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			m.logger.WithFields(map[string]interface{}{
				"ip":     c.ClientIP(),
				"path":   c.Request.URL.Path,
				"reason": err.Error(),
			}).Warn("Authentication failed")

			code := "invalid_token"
			if token == "" {
				code = "missing_token"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    code,
				"message": "Valid API key required",
			})
			return
		}

		c.Set(principalKey, principal)
		m.logger.WithFields(map[string]interface{}{
			"principal": principal.Name,
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
		}).Debug("Authenticated request")

		c.Next()
	}
}

// extractToken ключ из Authorization: Bearer или X-API-Key
func extractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(c.GetHeader("X-API-Key"))
}

// GetPrincipal владелец ключа текущего запроса
func GetPrincipal(c *gin.Context) (*Principal, bool) {
	if v, exists := c.Get(principalKey); exists {
		if p, ok := v.(*Principal); ok {
			return p, true
		}
	}
	return nil, false
}
