package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/adapters/store"
	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/codec"
	"github.com/dkeye/callsignal/internal/config"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/gorilla/websocket"
)

type testServer struct {
	*httptest.Server
	sessions *app.SessionManager
	registry *app.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{Mode: "debug", Secret: "test-secret", PingPeriod: time.Minute}
	mem := store.NewMemory()
	sessions := app.NewSessionManager(mem)
	t.Cleanup(sessions.Close)
	reg := app.NewRegistry()
	go app.NewDispatcher(reg, nil).Run(ctx, sessions.Deliveries())

	ctl := signal.NewSignalWSController(sessions, reg, signal.NewCommandRateLimiter(100, time.Second), codec.JSON{}, signal.Settings{
		ReadLimit:  32768,
		PingPeriod: time.Minute,
	})
	r := SetupRouter(ctx, cfg, Deps{Sessions: sessions, Registry: reg, Store: mem, Signal: ctl})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, sessions: sessions, registry: reg}
}

type testClient struct {
	t    *testing.T
	srv  *testServer
	http *http.Client
	user domain.User
}

func (s *testServer) login(t *testing.T, id, name string) *testClient {
	t.Helper()
	jar, _ := cookiejar.New(nil)
	c := &testClient{t: t, srv: s, http: &http.Client{Jar: jar}}
	resp := c.do(http.MethodPost, "/api/session", loginRequest{ID: id, Name: name})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&c.user); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return c
}

func (c *testClient) do(method, path string, body any) *http.Response {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, c.srv.URL+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (c *testClient) dial(query string) *websocket.Conn {
	c.t.Helper()
	u := "ws" + strings.TrimPrefix(c.srv.URL, "http") + "/api/ws/signal" + query
	d := websocket.Dialer{Jar: c.http.Jar, HandshakeTimeout: time.Second}
	ws, _, err := d.Dial(u, nil)
	if err != nil {
		c.t.Fatalf("dial: %v", err)
	}
	c.t.Cleanup(func() { ws.Close() })
	return ws
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readCommand(t *testing.T, ws *websocket.Conn, c codec.Codec) domain.Command {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	cmd, err := c.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return cmd
}

func writeCommand(t *testing.T, ws *websocket.Conn, c codec.Codec, cmd domain.Command) {
	t.Helper()
	data, err := c.Encode(cmd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := ws.WriteMessage(c.MessageType(), data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// TestSignalRequiresSession rejects sockets without an identity.
func TestSignalRequiresSession(t *testing.T) {
	srv := newTestServer(t)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

// TestSignalRelayEndToEnd runs a call start, an ongoing-call notice and a
// disconnect through real sockets.
func TestSignalRelayEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.login(t, "u-alice", "alice")
	bob := srv.login(t, "u-bob", "bob")
	carol := srv.login(t, "u-carol", "carol")

	for _, c := range []*testClient{alice, bob, carol} {
		resp := alice.do(http.MethodPost, "/api/rooms/7/members", c.user)
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("add member status %d", resp.StatusCode)
		}
	}

	wsA := alice.dial("")
	wsB := bob.dial("?codec=cbor")
	waitFor(t, "alice and bob present", func() bool { return len(srv.sessions.Present("7")) == 2 })

	writeCommand(t, wsB, codec.CBOR{}, domain.JoinCall{RoomID: "7", Sender: bob.user})
	got := readCommand(t, wsA, codec.JSON{})
	if got != (domain.JoinCall{RoomID: "7", Sender: bob.user}) {
		t.Fatalf("alice got %#v", got)
	}
	waitFor(t, "room 7 in call", func() bool { return srv.sessions.InCall("7") })

	wsC := carol.dial("")
	if got := readCommand(t, wsC, codec.JSON{}); got != (domain.OngoingCall{RoomID: "7"}) {
		t.Fatalf("carol got %#v", got)
	}

	offer := domain.PickUpCall{RoomID: "7", Sender: alice.user, RecipientID: bob.user.ID, SDPOffer: "v=0"}
	writeCommand(t, wsA, codec.JSON{}, offer)
	if got := readCommand(t, wsB, codec.CBOR{}); got != offer {
		t.Fatalf("bob got %#v", got)
	}

	// A spoofed sender is dropped without closing the socket.
	writeCommand(t, wsA, codec.JSON{}, domain.LeaveCall{RoomID: "7", Sender: carol.user})

	wsB.Close()
	leave := domain.LeaveCall{RoomID: "7", Sender: bob.user}
	if got := readCommand(t, wsA, codec.JSON{}); got != leave {
		t.Fatalf("alice got %#v after bob left", got)
	}
	if got := readCommand(t, wsC, codec.JSON{}); got != leave {
		t.Fatalf("carol got %#v after bob left", got)
	}
	waitFor(t, "bob gone", func() bool { return len(srv.sessions.Present("7")) == 2 })

	resp := alice.do(http.MethodGet, "/api/rooms/7/call", nil)
	defer resp.Body.Close()
	var status callStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.InCall || len(status.Present) != 2 {
		t.Fatalf("status = %+v", status)
	}
}

// TestReconnectReplaysOngoingCall checks a Reconnect re-announces the call.
func TestReconnectReplaysOngoingCall(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.login(t, "u-alice", "alice")
	bob := srv.login(t, "u-bob", "bob")
	for _, c := range []*testClient{alice, bob} {
		resp := alice.do(http.MethodPost, "/api/rooms/7/members", c.user)
		resp.Body.Close()
	}

	wsA := alice.dial("")
	wsB := bob.dial("")
	waitFor(t, "both present", func() bool { return len(srv.sessions.Present("7")) == 2 })
	writeCommand(t, wsA, codec.JSON{}, domain.JoinCall{RoomID: "7", Sender: alice.user})
	readCommand(t, wsB, codec.JSON{})

	writeCommand(t, wsB, codec.JSON{}, domain.Reconnect{})
	if got := readCommand(t, wsB, codec.JSON{}); got != (domain.OngoingCall{RoomID: "7"}) {
		t.Fatalf("bob got %#v after reconnect", got)
	}
	if n := len(srv.sessions.Present("7")); n != 2 {
		t.Fatalf("reconnect duplicated presence: %d", n)
	}
}
