package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/codec"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// UserKey is the gin context key the auth middleware stores the caller under.
const UserKey = "user"

// UserFrom returns the authenticated caller of the request.
func UserFrom(c *gin.Context) (domain.User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return domain.User{}, false
	}
	u, ok := v.(domain.User)
	return u, ok
}

type Settings struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

type SignalWSController struct {
	Sessions *app.SessionManager
	Registry *app.Registry
	Limiter  *CommandRateLimiter
	Codec    codec.Codec
	Settings Settings
}

func NewSignalWSController(sessions *app.SessionManager, reg *app.Registry, limiter *CommandRateLimiter, c codec.Codec, s Settings) *SignalWSController {
	if s.SendBuffer <= 0 {
		s.SendBuffer = 256
	}
	if s.WriteWait <= 0 {
		s.WriteWait = 5 * time.Second
	}
	if s.PingPeriod <= 0 {
		s.PingPeriod = 54 * time.Second
	}
	if s.PongWait <= s.PingPeriod {
		s.PongWait = s.PingPeriod * 10 / 9
	}
	return &SignalWSController{
		Sessions: sessions,
		Registry: reg,
		Limiter:  limiter,
		Codec:    c,
		Settings: s,
	}
}

type WsSignalConn struct {
	conn    *websocket.Conn
	send    chan core.Frame
	msgType int

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// wsSession is one socket of one user. Both pumps end through teardown.
type wsSession struct {
	id     core.ConnID
	user   domain.User
	conn   *WsSignalConn
	codec  codec.Codec
	cancel context.CancelFunc

	// connects tracks in-flight OnClientConnected tasks so disconnect
	// processing never runs before them.
	mu       sync.Mutex
	closing  bool
	connects sync.WaitGroup
	once     sync.Once
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	user, ok := UserFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	cd := ctl.Codec
	if name := c.Query("codec"); name != "" {
		var err error
		if cd, err = codec.ByName(name); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &wsSession{
		id:   core.ConnID(uuid.NewString()),
		user: user,
		conn: &WsSignalConn{
			conn:    ws,
			send:    make(chan core.Frame, ctl.Settings.SendBuffer),
			msgType: cd.MessageType(),
		},
		codec:  cd,
		cancel: cancel,
	}
	log.Info().Str("module", "signal").Str("conn", string(s.id)).Str("user", string(user.ID)).Str("codec", cd.Name()).Msg("new WS connection")

	ctl.Registry.Bind(s.id, user, s.conn, cd, cancel)

	go ctl.writePump(ctx, s)
	go ctl.readPump(ctx, s)
	ctl.connect(ctx, s)
}

func (ctl *SignalWSController) connect(ctx context.Context, s *wsSession) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.connects.Add(1)
	s.mu.Unlock()

	errc := ctl.Sessions.OnClientConnected(ctx, s.user)
	go func() {
		defer s.connects.Done()
		<-errc
	}()
}

// teardown runs once per socket, whichever pump notices the end first.
func (ctl *SignalWSController) teardown(s *wsSession) {
	s.once.Do(func() {
		s.cancel()
		s.conn.Close()
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		s.connects.Wait()

		remaining, ok := ctl.Registry.Unbind(s.id)
		if !ok || remaining > 0 {
			return
		}
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(s.user.ID)
		}
		if err := ctl.Sessions.OnClientDisconnected(context.Background(), s.user); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("user", string(s.user.ID)).Msg("disconnect processing")
		}
		// A socket bound while this one was going away must stay present.
		if len(ctl.Registry.ConnectionsOf(s.user.ID)) > 0 {
			if err := ctl.Sessions.ConnectClient(context.Background(), s.user); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("user", string(s.user.ID)).Msg("restore presence")
			}
		}
	})
}
