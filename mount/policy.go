// Copyright © 2020 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package mount implements the mount-options policy validator: given a
// filesystem type, a caller uid, and a user-supplied option list, it
// decides which options are admitted and which require external
// authorization, assembling the final argv option string.
package mount

import (
	_ "embed"

	"gopkg.in/yaml.v2"
)

// Rule is one entry of an allow/restricted list. A Key ending in "="
// matches any option of the form Key<value>; otherwise the option must
// match Key exactly. Action is empty for a plain allow rule and names
// the authorization action required for a restricted rule.
type Rule struct {
	Key    string `yaml:"key"`
	Action string `yaml:"action,omitempty"`
}

// FilesystemPolicy is the per-filesystem-type row of the policy table.
type FilesystemPolicy struct {
	Defaults     []string `yaml:"defaults,omitempty"`
	Allow        []string `yaml:"allow,omitempty"`
	AllowUIDSelf []string `yaml:"allow_uid_self,omitempty"`
	AllowGIDSelf []string `yaml:"allow_gid_self,omitempty"`
	Restricted   []Rule   `yaml:"restricted,omitempty"`
}

// Table is the full mount-options policy: a per-filesystem table plus
// the universal allow/restricted sets applied regardless of filesystem
// type.
type Table struct {
	Filesystems        map[string]FilesystemPolicy `yaml:"filesystems"`
	UniversalAllow     []string                    `yaml:"universal_allow,omitempty"`
	UniversalRestricted []Rule                     `yaml:"universal_restricted,omitempty"`
}

//go:embed policy.yaml
var defaultPolicyYAML []byte

// DefaultTable parses the policy table embedded at build time, the
// compiled-in fallback used when no policy file is present on disk.
func DefaultTable() (Table, error) {
	return ParseTable(defaultPolicyYAML)
}

// ParseTable parses a policy table document.
func ParseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, err
	}
	return t, nil
}
