package http

import (
	"net/http"

	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	sessionUserID   = "uid"
	sessionUserName = "name"
)

// AuthMiddleware binds the identity stored in the session cookie, if any,
// to the request.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		id, _ := sess.Get(sessionUserID).(string)
		name, _ := sess.Get(sessionUserName).(string)
		if id != "" && name != "" {
			c.Set(signal.UserKey, domain.User{ID: domain.UserID(id), Name: name})
		}
		c.Next()
	}
}

// RequireUser rejects requests without an identity.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := signal.UserFrom(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		c.Next()
	}
}

type loginRequest struct {
	ID   string `json:"id"`
	Name string `json:"name" binding:"required"`
}

// login issues a development identity. Production deployments put a real
// identity provider in front and keep AuthMiddleware.
func login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := domain.NewUser(domain.UserID(req.ID), req.Name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess := sessions.Default(c)
	sess.Set(sessionUserID, string(user.ID))
	sess.Set(sessionUserName, user.Name)
	if err := sess.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session save failed"})
		return
	}
	log.Info().Str("module", "adapters.http").Str("user", string(user.ID)).Msg("session issued")
	c.JSON(http.StatusOK, user)
}

func logout(c *gin.Context) {
	sess := sessions.Default(c)
	sess.Clear()
	_ = sess.Save()
	c.Status(http.StatusNoContent)
}

func whoami(c *gin.Context) {
	user, _ := signal.UserFrom(c)
	c.JSON(http.StatusOK, user)
}
