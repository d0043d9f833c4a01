package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice-relay/internal/config"
	"github.com/loqalabs/loqa-voice-relay/internal/natsserver"
	"github.com/loqalabs/loqa-voice-relay/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNilClientPublishIsNoop(t *testing.T) {
	var c *Client
	if err := c.PublishSynthesis(protocol.SynthesisEvent{RequestID: "x", Outcome: protocol.OutcomeStarted}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if c.Healthy() {
		t.Fatal("nil client must not be healthy")
	}
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestPublishSynthesisEmbedded(t *testing.T) {
	log := newLogger()
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, log)
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	sub, err := client.Conn().SubscribeSync(protocol.SubjectSynthesisPrefix + ".>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := client.PublishSynthesis(protocol.SynthesisEvent{RequestID: "req-1", Outcome: protocol.OutcomeCompleted, Status: 200}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	if msg.Subject != protocol.SubjectSynthesisCompleted {
		t.Fatalf("unexpected subject %s", msg.Subject)
	}
	var evt protocol.SynthesisEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.RequestID != "req-1" || evt.Timestamp.IsZero() {
		t.Fatalf("unexpected event %+v", evt)
	}
}
