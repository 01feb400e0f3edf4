// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/kairos-ci/pkg/errors"
)

// RoleOverride replaces the text of one crew member. Empty fields keep the
// built-in value.
type RoleOverride struct {
	SystemMessage string `yaml:"system_message"`
	Description   string `yaml:"description"`
}

type rolesFile struct {
	Roles map[string]RoleOverride `yaml:"roles"`
}

// LoadRoleOverrides reads a YAML file of the form
//
//	roles:
//	  code_reviewer:
//	    system_message: ...
//	    description: ...
func LoadRoleOverrides(path string) (map[string]RoleOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "read roles file", err).WithContext("path", path)
	}
	var f rolesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.New(errors.CodeConfig, "parse roles file", err).WithContext("path", path)
	}
	return f.Roles, nil
}

// ApplyOverrides returns a copy of ds with overrides applied. Overrides for
// unknown agents are rejected.
func ApplyOverrides(ds []Descriptor, overrides map[string]RoleOverride) ([]Descriptor, error) {
	out := append([]Descriptor(nil), ds...)
	index := make(map[string]int, len(out))
	for i, d := range out {
		index[d.Name] = i
	}
	for name, o := range overrides {
		i, ok := index[name]
		if !ok {
			return nil, errors.New(errors.CodeConfig, "roles file overrides unknown agent "+name, nil)
		}
		if o.SystemMessage != "" {
			out[i].SystemMessage = o.SystemMessage
		}
		if o.Description != "" {
			out[i].Description = o.Description
		}
	}
	return out, nil
}
