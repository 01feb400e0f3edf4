// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jllopis/kairos-ci/pkg/core"
	"github.com/jllopis/kairos-ci/pkg/errors"
)

// NATSEmitter publishes events as JSON on <prefix>.<run_id>.<type>.
type NATSEmitter struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSEmitter connects to url.
func NewNATSEmitter(url, prefix string) (*NATSEmitter, error) {
	conn, err := nats.Connect(url,
		nats.Name("kairos-ci"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "connect to nats", err).WithContext("url", url)
	}
	return &NATSEmitter{conn: conn, prefix: prefix, logger: slog.Default()}, nil
}

// Emit implements core.EventEmitter. Publish failures are logged; they never
// interrupt the conversation.
func (n *NATSEmitter) Emit(ctx context.Context, event core.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		n.logger.WarnContext(ctx, "events.nats.encode_failed", slog.String("error", err.Error()))
		return
	}
	subject := Subject(n.prefix, event.RunID, event.Type)
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.WarnContext(ctx, "events.nats.publish_failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
	}
}

// Close flushes pending events and closes the connection.
func (n *NATSEmitter) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	err := n.conn.FlushTimeout(5 * time.Second)
	n.conn.Close()
	if err != nil {
		return errors.New(errors.CodeInternal, "flush nats events", err)
	}
	return nil
}

// Watch subscribes to the events of runID (all runs when empty) and calls
// handle for each one until ctx is done.
func Watch(ctx context.Context, url, prefix, runID string, handle func(core.Event)) error {
	conn, err := nats.Connect(url, nats.Name("kairos-ci-watch"))
	if err != nil {
		return errors.New(errors.CodeConfig, "connect to nats", err).WithContext("url", url)
	}
	defer conn.Close()

	ch := make(chan *nats.Msg, 64)
	sub, err := conn.ChanSubscribe(RunSubjects(prefix, runID), ch)
	if err != nil {
		return errors.New(errors.CodeInternal, "subscribe to events", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			var event core.Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				slog.WarnContext(ctx, "events.watch.decode_failed",
					slog.String("subject", msg.Subject),
					slog.String("error", err.Error()),
				)
				continue
			}
			handle(event)
		}
	}
}
