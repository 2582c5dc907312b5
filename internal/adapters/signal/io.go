package signal

import (
	"context"
	"time"

	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, s *wsSession) {
	ticker := time.NewTicker(ctl.Settings.PingPeriod)
	defer func() {
		ticker.Stop()
		ctl.teardown(s)
	}()

	c := s.conn
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(s.id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", string(s.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Settings.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(c.msgType, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Settings.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, s *wsSession) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(s.id)).Str("user", string(s.user.ID)).Msg("readPump closing")
		ctl.teardown(s)
	}()

	ws := s.conn.conn
	if ctl.Settings.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Settings.ReadLimit)
	}
	_ = ws.SetReadDeadline(time.Now().Add(ctl.Settings.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(ctl.Settings.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("readPump read error")
			}
			return
		}
		ctl.handleSignal(ctx, s, data)
	}
}

// handleSignal processes one inbound frame. Failures reject that frame only.
func (ctl *SignalWSController) handleSignal(ctx context.Context, s *wsSession, data []byte) {
	cmd, err := s.codec.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(s.id)).Msg("bad frame")
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(s.user.ID) {
		log.Warn().Str("module", "signal").Str("user", string(s.user.ID)).Str("kind", string(cmd.Kind())).Msg("rate limited")
		return
	}

	if _, ok := cmd.(domain.Reconnect); ok {
		log.Info().Str("module", "signal").Str("user", string(s.user.ID)).Msg("reconnect requested")
		ctl.connect(ctx, s)
		return
	}

	if err := ctl.Sessions.OnRoomCommand(s.user, cmd); err != nil {
		ev := log.Error()
		if app.IsRejection(err) {
			ev = log.Warn()
		}
		ev.Err(err).Str("module", "signal").Str("user", string(s.user.ID)).Str("kind", string(cmd.Kind())).Msg("command rejected")
	}
}
