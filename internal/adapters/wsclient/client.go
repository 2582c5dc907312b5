// Package wsclient is the client end of the signaling websocket: it logs
// in over HTTP, keeps the socket up and turns frames into commands.
package wsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/callsignal/internal/codec"
	"github.com/dkeye/callsignal/internal/config"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/pion/randutil"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("signaling not connected")
	ErrGaveUp       = errors.New("signaling reconnect attempts exhausted")
)

const (
	signalPath = "/api/ws/signal"
	loginPath  = "/api/session"
)

type Options struct {
	ServerURL string
	User      domain.User
	Codec     codec.Codec
	Reconnect config.ReconnectConfig
	WriteWait time.Duration
}

type Client struct {
	opts   Options
	http   *http.Client
	dialer *websocket.Dialer
	rng    randutil.MathRandomGenerator
	in     chan domain.Command

	mu   sync.Mutex
	user domain.User
	conn *websocket.Conn

	writeMu sync.Mutex
}

func New(opts Options) (*Client, error) {
	if _, err := url.Parse(opts.ServerURL); err != nil {
		return nil, fmt.Errorf("server url: %w", err)
	}
	if opts.Codec == nil {
		opts.Codec = codec.JSON{}
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		opts:   opts,
		http:   &http.Client{Jar: jar, Timeout: 10 * time.Second},
		dialer: &websocket.Dialer{Jar: jar, HandshakeTimeout: 10 * time.Second},
		rng:    randutil.NewMathRandomGenerator(),
		in:     make(chan domain.Command, 64),
	}, nil
}

// Commands delivers inbound commands. It is closed when Run returns.
func (c *Client) Commands() <-chan domain.Command { return c.in }

// User is the identity the server issued at login.
func (c *Client) User() domain.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Login obtains a session cookie. The returned user carries the id the
// server settled on.
func (c *Client) Login(ctx context.Context) (domain.User, error) {
	body, err := json.Marshal(map[string]string{
		"id":   string(c.opts.User.ID),
		"name": c.opts.User.Name,
	})
	if err != nil {
		return domain.User{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.opts.ServerURL, "/")+loginPath, bytes.NewReader(body))
	if err != nil {
		return domain.User{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.User{}, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.User{}, fmt.Errorf("login: status %d", resp.StatusCode)
	}
	var user domain.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return domain.User{}, fmt.Errorf("login response: %w", err)
	}
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
	log.Info().Str("module", "wsclient").Str("user", string(user.ID)).Str("name", user.Name).Msg("logged in")
	return user, nil
}

// Send writes one command on the live socket.
func (c *Client) Send(ctx context.Context, cmd domain.Command) error {
	data, err := c.opts.Codec.Encode(cmd)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(c.opts.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := conn.WriteMessage(c.opts.Codec.MessageType(), data); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Kind(), err)
	}
	return nil
}

// Run keeps the socket connected until ctx ends or the reconnect attempts are
// spent. A session that got connected resets the count.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.in)
	failures := 0
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			failures = 0
		}
		failures++
		if failures > c.opts.Reconnect.Count {
			log.Error().Err(err).Str("module", "wsclient").Int("attempts", failures-1).Msg("giving up")
			return fmt.Errorf("%w: %v", ErrGaveUp, err)
		}
		wait := c.backoff()
		log.Warn().Err(err).Str("module", "wsclient").Int("attempt", failures).Dur("wait", wait).Msg("signaling lost, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) backoff() time.Duration {
	wait := c.opts.Reconnect.Delay
	if j := c.opts.Reconnect.Jitter; j > 0 {
		wait += time.Duration(c.rng.Intn(int(j)))
	}
	return wait
}

// session logs in if needed, dials and reads until the socket fails.
func (c *Client) session(ctx context.Context) (bool, error) {
	if c.User().ID == "" {
		if _, err := c.Login(ctx); err != nil {
			return false, err
		}
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.signalURL(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			c.mu.Lock()
			c.user = domain.User{}
			c.mu.Unlock()
		}
		return false, fmt.Errorf("dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	log.Info().Str("module", "wsclient").Str("codec", c.opts.Codec.Name()).Msg("signaling connected")

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		cmd, err := c.opts.Codec.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "wsclient").Msg("undecodable frame dropped")
			continue
		}
		select {
		case c.in <- cmd:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func (c *Client) signalURL() string {
	u, _ := url.Parse(strings.TrimRight(c.opts.ServerURL, "/"))
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += signalPath
	u.RawQuery = url.Values{"codec": {c.opts.Codec.Name()}}.Encode()
	return u.String()
}
