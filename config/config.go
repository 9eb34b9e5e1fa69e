// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config parses the YAML configuration that drives a WiscKey
// value-log instance.
package config

import (
	"io"
	"io/ioutil"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/paullcm/WiscKey/errors"
)

// Options holds the tunables of the vlog subsystem. Zero values are
// replaced by the defaults below when loaded through InitConfig.
type Options struct {
	// Dir is the directory holding the vlog files.
	Dir string `yaml:"dir"`

	// MaxVlogSize is the size, in bytes, at which the writer rolls
	// over to a new vlog file.
	MaxVlogSize int64 `yaml:"max_vlog_size"`

	// CleanThreshold is the number of stale (overwritten or deleted)
	// records a vlog must accumulate before it becomes a garbage
	// collection candidate.
	CleanThreshold int `yaml:"clean_threshold"`

	// CleanWriteBufferSize is the number of bytes of live records the
	// collector accumulates before flushing a batch back through the
	// index.
	CleanWriteBufferSize int `yaml:"clean_write_buffer_size"`

	// VerifyChecksum requests that the reader verify record CRCs during
	// sequential scans (ReadRecord). The random-access value-read path
	// never checksums: a record's CRC covers its whole frame, not any
	// one value batched inside it.
	VerifyChecksum bool `yaml:"verify_checksum"`
}

// Default values used to fill in unset Options fields.
const (
	DefaultMaxVlogSize          = 64 << 20 // 64 MiB
	DefaultCleanThreshold       = 4
	DefaultCleanWriteBufferSize = 4 << 20 // 4 MiB
)

// Default returns an Options value with every field set to its default.
func Default() Options {
	return Options{
		Dir:                  ".",
		MaxVlogSize:          DefaultMaxVlogSize,
		CleanThreshold:       DefaultCleanThreshold,
		CleanWriteBufferSize: DefaultCleanWriteBufferSize,
		VerifyChecksum:       true,
	}
}

// FromFile reads and parses the YAML configuration file at name.
func FromFile(name string) (Options, error) {
	const op errors.Op = "config.FromFile"
	f, err := os.Open(name)
	if err != nil {
		return Options{}, errors.E(op, errors.IO, err)
	}
	defer f.Close()
	opts, err := InitConfig(f)
	if err != nil {
		return Options{}, errors.E(op, err)
	}
	return opts, nil
}

// InitConfig parses YAML configuration from r, applying defaults for any
// field left unset in the input.
func InitConfig(r io.Reader) (Options, error) {
	const op errors.Op = "config.InitConfig"
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return Options{}, errors.E(op, errors.IO, err)
	}
	opts := Default()
	if len(data) == 0 {
		return opts, nil
	}
	var parsed Options
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Options{}, errors.E(op, errors.Invalid, err)
	}
	if parsed.Dir != "" {
		opts.Dir = parsed.Dir
	}
	if parsed.MaxVlogSize != 0 {
		opts.MaxVlogSize = parsed.MaxVlogSize
	}
	if parsed.CleanThreshold != 0 {
		opts.CleanThreshold = parsed.CleanThreshold
	}
	if parsed.CleanWriteBufferSize != 0 {
		opts.CleanWriteBufferSize = parsed.CleanWriteBufferSize
	}
	// VerifyChecksum defaults to true; an explicit "false" in the YAML
	// is indistinguishable from "unset" with a bool field, so callers
	// that need to disable it should do so via SetVerifyChecksum.
	if parsed.VerifyChecksum {
		opts.VerifyChecksum = true
	}
	if err := opts.validate(); err != nil {
		return Options{}, errors.E(op, err)
	}
	return opts, nil
}

func (o Options) validate() error {
	const op errors.Op = "config.Options.validate"
	if o.CleanThreshold < 1 {
		return errors.E(op, errors.Invalid, errors.Str("clean_threshold must be >= 1"))
	}
	if o.CleanWriteBufferSize < 1 {
		return errors.E(op, errors.Invalid, errors.Str("clean_write_buffer_size must be >= 1"))
	}
	if o.MaxVlogSize < 1 {
		return errors.E(op, errors.Invalid, errors.Str("max_vlog_size must be >= 1"))
	}
	return nil
}

// SetVerifyChecksum returns a copy of o with VerifyChecksum set explicitly,
// working around YAML's inability to distinguish "false" from "unset" for
// a bool field.
func SetVerifyChecksum(o Options, v bool) Options {
	o.VerifyChecksum = v
	return o
}
