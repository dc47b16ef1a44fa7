// Copyright © 2018 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

package conf

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration is a time.Duration that unmarshals from a YAML string like
// "5s" instead of yaml.v2's default integer-nanoseconds encoding.
type Duration time.Duration

// UnmarshalYAML unmarshals Duration from YAML format
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML marshals Duration into YAML format
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// HelperPaths overrides the external binaries ops invokes, keyed the
// same as ops.HelperPaths; absent here, ops.DefaultHelperPaths applies.
type HelperPaths struct {
	Mount                string `yaml:"mount,omitempty"`
	Umount               string `yaml:"umount,omitempty"`
	Erase                string `yaml:"erase,omitempty"`
	Mkfs                 string `yaml:"mkfs,omitempty"`
	CreatePartition      string `yaml:"create_partition,omitempty"`
	DeletePartition      string `yaml:"delete_partition,omitempty"`
	ModifyPartition      string `yaml:"modify_partition,omitempty"`
	CreatePartitionTable string `yaml:"create_partition_table,omitempty"`
}

// Config is blockdevd's daemon configuration file, ConfigFile.
type Config struct {
	// RescanInterval overrides loop.DefaultInterval.
	RescanInterval Duration `yaml:"rescan_interval,omitempty"`

	// LedgerDir overrides where the mount ledger's Badger store lives.
	LedgerDir string `yaml:"ledger_dir,omitempty"`

	Helpers HelperPaths `yaml:"helpers,omitempty"`
}

// LoadConfig loads a Config from path. A missing file is not an error;
// it yields the zero Config, so every field's "unset" meaning (fall
// back to the compiled-in default) applies uniformly.
func LoadConfig(path string) (Config, error) {
	var c Config

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return c, err
	}

	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, err
	}
	return c, nil
}
