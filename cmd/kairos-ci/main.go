// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Command kairos-ci runs a multi-agent code review over a repository: an
// executor, a reviewer, a documentation writer and a test designer talk in a
// group chat until the review is done.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout, os.Stderr, os.Getenv)
	if err := root.ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
