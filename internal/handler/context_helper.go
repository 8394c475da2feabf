package handler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noah-isme/counseling-booking-api/internal/middleware"
	"github.com/noah-isme/counseling-booking-api/internal/models"
	appErrors "github.com/noah-isme/counseling-booking-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext returns the caller identity or an unauthorized error.
func actorFromContext(c *gin.Context) (models.Actor, error) {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		return models.Actor{}, appErrors.ErrUnauthorized
	}
	return claims.Actor(), nil
}

// timeQuery parses an RFC3339 query parameter.
func timeQuery(c *gin.Context, key string, required bool) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		if required {
			return time.Time{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s is required", key))
		}
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("%s must be RFC3339", key))
	}
	return ts, nil
}

// checkUUID rejects a non-empty identifier that is not a canonical UUID.
func checkUUID(key, value string) error {
	if value == "" {
		return nil
	}
	if _, err := uuid.Parse(value); err != nil || len(value) != 36 {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be a UUID", key))
	}
	return nil
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func boolQuery(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}
