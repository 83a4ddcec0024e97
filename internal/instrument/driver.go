// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package instrument implements the driver layer: a uniform contract over
// bench instruments (power supplies, DAQs, scopes, RF testers), DUT command
// channels, and fixture hardware. Drivers are created through a registry
// keyed by instrument type and validate their parameters against declarative
// schemas shared with the dispatcher.
package instrument

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/exp/maps"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/config"
	"github.com/sprigga/webpdtool/internal/plan"
)

// Driver is the contract every instrument family implements.
type Driver interface {
	// Initialize resets the instrument to a known state. Idempotent.
	Initialize(ctx context.Context) error
	// Reset restores the instrument to idle with outputs off.
	Reset(ctx context.Context) error
	// ExecuteCommand runs one measurement and returns the raw reading.
	// Parameter validation is the driver's responsibility even though the
	// dispatcher pre-validates, to guard direct callers.
	ExecuteCommand(ctx context.Context, command string, params plan.Params) (string, error)
	// RetrySafe reports whether a failed command may be reissued once after
	// a transient transport error without side effects.
	RetrySafe() bool
	// Close releases the underlying transport.
	Close() error
}

// ErrSchemaViolation marks parameter bags that fail schema validation.
var ErrSchemaViolation = errors.New("schema violation")

// ErrBadParameter marks parameters that are present but unusable.
var ErrBadParameter = errors.New("bad parameter")

// DomainError reports a request outside the instrument's capabilities, for
// example a current measurement on a voltage-only channel. The driver could
// not run the measurement at all.
type DomainError struct {
	Msg string
}

func (e *DomainError) Error() string { return e.Msg }

// SetMismatchError reports a set-and-read-back disagreement: the output was
// programmed but the read-back, rounded to 2 decimals, differs. The
// measurement ran; the device-level outcome is negative.
type SetMismatchError struct {
	Quantity string // "voltage" or "current"
	Want     float64
	Got      float64
}

func (e *SetMismatchError) Error() string {
	return fmt.Sprintf("%s set %.2f but read back %.2f", e.Quantity, e.Want, e.Got)
}

// Schema declares the parameters one (type, command) pair accepts.
type Schema struct {
	Required []string
	Optional []string
	Example  string
}

// Validate checks p against the schema.
func (s *Schema) Validate(p plan.Params) error {
	var missing []string
	for _, k := range s.Required {
		if !p.Has(k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.Wrapf(ErrSchemaViolation, "missing required parameters %s (example: %s)",
			strings.Join(missing, ", "), s.Example)
	}
	return nil
}

type schemaKey struct {
	typ     string
	command string
}

var schemas = make(map[schemaKey]*Schema)

// RegisterSchema declares the schema for one (type, command) pair. Driver
// files call this from init.
func RegisterSchema(typ, command string, s *Schema) {
	k := schemaKey{typ, command}
	if _, ok := schemas[k]; ok {
		panic(fmt.Sprintf("instrument: duplicate schema for %s/%s", typ, command))
	}
	schemas[k] = s
}

// LookupSchema returns the schema for a (type, command) pair.
func LookupSchema(typ, command string) (*Schema, bool) {
	s, ok := schemas[schemaKey{typ, command}]
	return s, ok
}

// Commands returns the sorted command names registered for a type.
func Commands(typ string) []string {
	var out []string
	for k := range schemas {
		if k.typ == typ {
			out = append(out, k.command)
		}
	}
	sort.Strings(out)
	return out
}

// ValidateParams pre-flights a parameter bag for a (type, command) pair.
func ValidateParams(typ, command string, p plan.Params) error {
	s, ok := LookupSchema(typ, command)
	if !ok {
		cmds := Commands(typ)
		if len(cmds) == 0 {
			return errors.Wrapf(ErrSchemaViolation, "instrument type %q has no registered commands", typ)
		}
		return errors.Wrapf(ErrSchemaViolation, "command %q not supported by %s (supported: %s)",
			command, typ, strings.Join(cmds, ", "))
	}
	return s.Validate(p)
}

// Factory builds a Driver from configuration. sim forces simulation mode
// regardless of the connection variant.
type Factory func(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (Driver, error)

var factories = make(map[string]Factory)

// Register installs a factory for an instrument type. Driver files call this
// from init; later registrations for the same type panic.
func Register(typ string, f Factory) {
	if _, ok := factories[typ]; ok {
		panic(fmt.Sprintf("instrument: duplicate driver type %q", typ))
	}
	factories[typ] = f
}

// Types returns the sorted registered instrument types.
func Types() []string {
	ts := maps.Keys(factories)
	sort.Strings(ts)
	return ts
}

// New builds a driver for cfg. Simulation is in effect when sim is true or
// the connection variant is "simulated"; drivers never open hardware then.
func New(ctx context.Context, cfg *config.InstrumentConfig, sim bool) (Driver, error) {
	f, ok := factories[cfg.Type]
	if !ok {
		return nil, errors.Errorf("unknown instrument type %q (known: %s)",
			cfg.Type, strings.Join(Types(), ", "))
	}
	return f(ctx, cfg, sim || cfg.Connection.Type == config.ConnSimulated)
}
