// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/kairos-ci/pkg/core"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "kairosci.run-1.message", Subject("kairosci", "run-1", core.EventMessage))
	assert.Equal(t, "kairosci.run_x.run.completed", Subject("kairosci", "run.x", core.EventRunCompleted))
	assert.Equal(t, "kairosci._.error", Subject("kairosci", "", core.EventError))
	assert.Equal(t, "kairosci.*.>", RunSubjects("kairosci", ""))
	assert.Equal(t, "kairosci.run-1.>", RunSubjects("kairosci", "run-1"))
}

func TestSlogEmitter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ev := core.NewEvent(core.EventMessage, "code_reviewer", "run-1", map[string]any{"length": 42})
	ev.Round = 3
	NewSlogEmitter(logger).Emit(context.Background(), ev)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "groupchat.event", rec["msg"])
	assert.Equal(t, "message", rec["event"])
	assert.Equal(t, "code_reviewer", rec["agent"])
	assert.Equal(t, float64(3), rec["round"])
	assert.Equal(t, map[string]any{"length": float64(42)}, rec["payload"])
}

type collector struct {
	mu     sync.Mutex
	events []core.Event
}

func (c *collector) Emit(_ context.Context, e core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func TestMultiEmitter(t *testing.T) {
	a, b := &collector{}, &collector{}
	MultiEmitter{a, nil, b}.Emit(context.Background(), core.NewEvent(core.EventRunStarted, "", "run-1", nil))
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestNATSEmitterPublishes(t *testing.T) {
	srv, err := StartEmbedded(-1)
	require.NoError(t, err)
	defer srv.Close()

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	received := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("kairosci.run-7.>", received)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	em, err := NewNATSEmitter(srv.ClientURL(), "kairosci")
	require.NoError(t, err)
	em.Emit(context.Background(), core.NewEvent(core.EventSpeakerSelected, "documentor", "run-7", map[string]any{"method": "auto"}))
	require.NoError(t, em.Close())

	select {
	case msg := <-received:
		assert.Equal(t, "kairosci.run-7.speaker.selected", msg.Subject)
		var ev core.Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, "documentor", ev.Agent)
		assert.Equal(t, "auto", ev.Payload["method"])
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestWatchReceivesRunEvents(t *testing.T) {
	srv, err := StartEmbedded(-1)
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan core.Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, srv.ClientURL(), "kairosci", "run-9", func(e core.Event) { got <- e })
	}()

	em, err := NewNATSEmitter(srv.ClientURL(), "kairosci")
	require.NoError(t, err)
	defer em.Close()

	// The subscription is asynchronous; publish until the watcher sees one.
	deadline := time.After(3 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case e := <-got:
			assert.Equal(t, "run-9", e.RunID)
			assert.Equal(t, core.EventRunCompleted, e.Type)
			cancel()
			require.NoError(t, <-done)
			return
		case <-ticker.C:
			em.Emit(ctx, core.NewEvent(core.EventRunCompleted, "", "run-9", nil))
			em.Emit(ctx, core.NewEvent(core.EventRunCompleted, "", "run-other", nil))
		case <-deadline:
			t.Fatal("watcher received nothing")
		}
	}
}
