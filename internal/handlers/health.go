package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lifelink/lifelink/internal/database"
	"github.com/lifelink/lifelink/pkg/errors"
	"github.com/lifelink/lifelink/pkg/response"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health returns a status payload useful for readiness checks. The database is always probed;
// extra dependencies such as the Redis cache are probed when supplied.
func Health(db *gorm.DB, deps map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(requestContext(c), 2*time.Second)
		defer cancel()

		checks := gin.H{}
		healthy := true

		if db != nil {
			status := "ok"
			if err := database.Ping(ctx, db); err != nil {
				status = err.Error()
				healthy = false
			}
			checks["database"] = status
		}

		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				checks[name] = err.Error()
				healthy = false
				continue
			}
			checks[name] = "ok"
		}

		if !healthy {
			response.Error(c, errors.ErrUnavailable.WithDetails(checks))
			return
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok", "checks": checks})
	}
}
