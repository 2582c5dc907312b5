package http

import (
	"context"
	"net/http"

	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/config"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type Deps struct {
	Sessions *app.SessionManager
	Registry *app.Registry
	Store    core.MembershipStore
	Signal   *signal.SignalWSController
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("CallSessions", store))
	r.Use(AuthMiddleware())

	api := r.Group("/api")
	api.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": deps.Registry.Count()})
	})
	api.POST("/session", login)
	api.DELETE("/session", logout)

	authed := api.Group("", RequireUser())
	authed.GET("/session", whoami)
	authed.GET("/ws/signal", func(c *gin.Context) {
		deps.Signal.HandleSignal(ctx, c)
	})

	rooms := roomHandlers{sessions: deps.Sessions, store: deps.Store}
	authed.GET("/rooms/:id/call", rooms.callStatus)
	authed.GET("/rooms/:id/members", rooms.listMembers)
	if cfg.Mode == "debug" {
		authed.POST("/rooms/:id/members", rooms.addMember)
		authed.DELETE("/rooms/:id/members/:uid", rooms.removeMember)
	}

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
