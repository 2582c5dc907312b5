package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dkeye/callsignal/internal/call"
	"github.com/dkeye/callsignal/internal/domain"
)

type idleTransport struct {
	commands chan domain.Command
}

func (t *idleTransport) Send(context.Context, domain.Command) error { return nil }
func (t *idleTransport) Commands() <-chan domain.Command            { return t.commands }
func (t *idleTransport) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// TestConsoleLogsCarryModule checks console log entries are tagged with the
// client module.
func TestConsoleLogsCarryModule(t *testing.T) {
	tr := &idleTransport{commands: make(chan domain.Command)}
	self := domain.User{ID: "u-alice", Name: "alice"}
	m := call.NewManager(self, nil, tr, call.Options{})
	t.Cleanup(func() { m.Close(context.Background()) })

	var buf bytes.Buffer
	ui := newConsole(call.NewController(m, tr), true, zerolog.New(&buf))

	// Nothing is pending, so accepting fails and is logged.
	ui.incoming(context.Background(), domain.JoinCall{RoomID: "7", Sender: domain.User{ID: "u-bob", Name: "bob"}})

	out := buf.String()
	if !strings.Contains(out, `"module":"cmd.client"`) || !strings.Contains(out, `"message":"accept failed"`) {
		t.Fatalf("log output = %s", out)
	}
}
