// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdf

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// ModeName selects one of the three parsing postures the core
// supports. The three orthogonal knobs on Mode are derived from
// ModeName by modeFor; Config carries only the ModeName, so every
// parse runs with one of the three combinations modeFor returns.
type ModeName string

const (
	ModeLenient    ModeName = "lenient"
	ModeStrict     ModeName = "strict"
	ModeValidation ModeName = "validation"
)

// Mode controls the three orthogonal recovery/validation knobs. The
// core is a single parser parameterized by Mode; it never forks
// separate code paths per ModeName.
type Mode struct {
	Name ModeName

	// RecoverOnBadOffsets enables BruteForceScanner-based repair when
	// an xref offset or startxref pointer does not resolve.
	RecoverOnBadOffsets bool

	// RecordDiagnostics enables ValidationSink conformance-signal
	// bookkeeping (EOL styles, header padding, byte-range capture).
	RecordDiagnostics bool

	// DropInsteadOfReplace, when true, drops a live key that fails the
	// offset check instead of invoking the scanner to replace it.
	// Set for ModeValidation; false for ModeLenient.
	DropInsteadOfReplace bool
}

func modeFor(name ModeName) Mode {
	switch name {
	case ModeStrict:
		return Mode{Name: ModeStrict}
	case ModeValidation:
		return Mode{Name: ModeValidation, RecoverOnBadOffsets: true, RecordDiagnostics: true, DropInsteadOfReplace: true}
	default:
		return Mode{Name: ModeLenient, RecoverOnBadOffsets: true, RecordDiagnostics: false, DropInsteadOfReplace: false}
	}
}

// ParseLimits bounds the resource consumption of a single parse so
// that a hostile or wildly corrupt input cannot run away.
type ParseLimits struct {
	MaxParseTime      time.Duration `validate:"required"`
	MaxHexStringBytes int           `validate:"min=0"`
	MaxStreamBytes    int64         `validate:"min=0"`
	MaxRecursionDepth int           `validate:"min=1,max=10000"`
	CheckInterval     int           `validate:"min=0"`
}

// DefaultParseLimits mirrors the defaults the teacher shipped for its
// own context-cancellation support, extended with the recursion-depth
// limit the core's resolve/Length recursion needs (suggested: 200).
func DefaultParseLimits() ParseLimits {
	return ParseLimits{
		MaxParseTime:      30 * time.Second,
		MaxHexStringBytes: 64 << 20,
		MaxStreamBytes:    2 << 30,
		MaxRecursionDepth: 200,
		CheckInterval:     4096,
	}
}

// Config is the process/document-wide configuration for a parse.
type Config struct {
	Mode           ModeName `validate:"oneof=lenient strict validation"`
	EOFLookupRange int      `validate:"min=16"`
	Limits         ParseLimits
	Logger         LogFunc
}

// NewDefaultConfig returns the default lenient configuration: all
// recovery paths enabled, a 2048-byte EOF lookup window, and the
// default ParseLimits.
func NewDefaultConfig() *Config {
	return &Config{
		Mode:           ModeLenient,
		EOFLookupRange: 2048,
		Limits:         DefaultParseLimits(),
	}
}

// Validate checks the configuration's struct tags and returns a
// descriptive error on the first violation.
func (c *Config) Validate() error {
	logDebug("validating config")
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}
	return v.Struct(&c.Limits)
}

func (c *Config) mode() Mode {
	if c == nil {
		return modeFor(ModeLenient)
	}
	return modeFor(c.Mode)
}
