// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/jllopis/kairos-ci/pkg/errors"
)

// printError writes err with its code and a hint. Untyped errors are printed
// as they are.
func printError(w io.Writer, err error) {
	e := errors.As(err)
	if e == nil {
		fmt.Fprintf(w, "Error: %s\n", err.Error())
		return
	}

	msg := e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", e.Code, msg)

	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		if k != "hint" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, e.Context[k])
	}
	if hint := hintFor(e); hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", hint)
	}
}

func hintFor(e *errors.Error) string {
	if h, ok := e.Context["hint"].(string); ok && h != "" {
		return h
	}
	switch e.Code {
	case errors.CodeConfig:
		return "check the config file, KAIROSCI_* variables and --set flags; 'kairos-ci validate' reports every problem"
	case errors.CodeUnauthorized:
		return "check your credentials or API key"
	case errors.CodeLLMError:
		return "the LLM backend failed; check llm.base_url and connectivity, this may be transient"
	case errors.CodeExecution:
		return "the code executor could not run; check REPO_DIR and, with executor.use_docker, the docker daemon"
	case errors.CodeTimeout:
		return "the run was cancelled or timed out; partial transcripts are kept in the transcript store"
	case errors.CodeMemoryError:
		return "check transcript.backend and transcript.path"
	case errors.CodeNotFound:
		return "list stored runs with 'kairos-ci history'"
	case errors.CodeInvalidInput:
		return "run 'kairos-ci help' for usage information"
	default:
		return ""
	}
}
