// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CLIOptions holds the configuration arguments found on a command line.
type CLIOptions struct {
	Path    string
	Profile string
	Sets    map[string]any
}

// ParseCLIOverrides extracts --config, --profile and --set arguments.
// Both "--flag value" and "--flag=value" forms are accepted.
func ParseCLIOverrides(args []string) (CLIOptions, error) {
	opts := CLIOptions{Sets: map[string]any{}}
	for i := 0; i < len(args); i++ {
		name, value, inline := strings.Cut(args[i], "=")
		switch name {
		case "--config", "--profile", "--set":
		default:
			return opts, fmt.Errorf("unknown config argument %q", args[i])
		}
		if !inline {
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing value for %s", name)
			}
			value = args[i+1]
			i++
		}
		switch name {
		case "--config":
			opts.Path = value
		case "--profile":
			opts.Profile = value
		case "--set":
			key, raw, err := ParseSet(value)
			if err != nil {
				return opts, err
			}
			opts.Sets[key] = raw
		}
	}
	return opts, nil
}

// ParseSet splits key=value. The value is decoded as JSON when it parses, so
// numbers, booleans, lists and objects keep their type; otherwise it stays a
// string.
func ParseSet(expr string) (string, any, error) {
	key, raw, ok := strings.Cut(expr, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid --set %q, expected key=value", expr)
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		return key, decoded, nil
	}
	return key, raw, nil
}
