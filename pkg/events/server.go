// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/jllopis/kairos-ci/pkg/errors"
)

// EmbeddedServer is an in-process NATS server that lives for one run, so
// `kairos-ci watch` can follow a review without external infrastructure.
type EmbeddedServer struct {
	server *natsserver.Server
}

// StartEmbedded starts a server on port; -1 picks a random port.
func StartEmbedded(port int) (*EmbeddedServer, error) {
	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "create embedded nats server", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.New(errors.CodeInternal, "embedded nats server not ready", nil).
			WithContext("port", port)
	}
	return &EmbeddedServer{server: ns}, nil
}

// EmbeddedURL is the client URL of an embedded server listening on port.
func EmbeddedURL(port int) string {
	return fmt.Sprintf("nats://127.0.0.1:%d", port)
}

// ClientURL returns the URL clients connect to.
func (e *EmbeddedServer) ClientURL() string {
	return e.server.ClientURL()
}

// Close shuts the server down and waits for it to stop.
func (e *EmbeddedServer) Close() {
	e.server.Shutdown()
	e.server.WaitForShutdown()
}
