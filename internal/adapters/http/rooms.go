package http

import (
	"net/http"

	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type roomHandlers struct {
	sessions *app.SessionManager
	store    core.MembershipStore
}

type callStatus struct {
	RoomID  domain.RoomID   `json:"roomId"`
	InCall  bool            `json:"inCall"`
	Present []domain.UserID `json:"present"`
}

func (h roomHandlers) callStatus(c *gin.Context) {
	room := domain.RoomID(c.Param("id"))
	c.JSON(http.StatusOK, callStatus{
		RoomID:  room,
		InCall:  h.sessions.InCall(room),
		Present: h.sessions.Present(room),
	})
}

func (h roomHandlers) listMembers(c *gin.Context) {
	members, err := h.store.ListMembers(c.Request.Context(), domain.RoomID(c.Param("id")))
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("list members")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list members failed"})
		return
	}
	c.JSON(http.StatusOK, members)
}

func (h roomHandlers) addMember(c *gin.Context) {
	var user domain.User
	if err := c.ShouldBindJSON(&user); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ms := domain.Membership{Room: domain.RoomID(c.Param("id")), User: user}
	if err := h.store.AddMembership(c.Request.Context(), ms); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("module", "adapters.http").Str("room", string(ms.Room)).Str("user", string(user.ID)).Msg("membership added")
	c.JSON(http.StatusCreated, ms)
}

func (h roomHandlers) removeMember(c *gin.Context) {
	room := domain.RoomID(c.Param("id"))
	user := domain.UserID(c.Param("uid"))
	if err := h.store.RemoveMembership(c.Request.Context(), room, user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
