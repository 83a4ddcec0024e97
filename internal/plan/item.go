// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package plan defines the test-plan data model: ordered test items, their
// limit semantics, and the per-session point map that tracks execution state.
package plan

import (
	"strconv"

	"github.com/sprigga/webpdtool/errors"
)

// ValueType declares how a raw instrument reading is coerced before limits
// are applied.
type ValueType string

const (
	ValueInteger ValueType = "integer"
	ValueFloat   ValueType = "float"
	ValueString  ValueType = "string"
)

// ParseValueType converts a plan-file string to a ValueType.
func ParseValueType(s string) (ValueType, error) {
	switch ValueType(s) {
	case ValueInteger, ValueFloat, ValueString:
		return ValueType(s), nil
	}
	return "", errors.Errorf("unknown value_type %q", s)
}

// LimitType selects the rule family used to convert a reading into PASS/FAIL.
type LimitType string

const (
	LimitNone       LimitType = "none"
	LimitLower      LimitType = "lower"
	LimitUpper      LimitType = "upper"
	LimitBoth       LimitType = "both"
	LimitEquality   LimitType = "equality"
	LimitPartial    LimitType = "partial"
	LimitInequality LimitType = "inequality"
)

// ParseLimitType converts a plan-file string to a LimitType.
func ParseLimitType(s string) (LimitType, error) {
	switch LimitType(s) {
	case LimitNone, LimitLower, LimitUpper, LimitBoth, LimitEquality, LimitPartial, LimitInequality:
		return LimitType(s), nil
	}
	return "", errors.Errorf("unknown limit_type %q", s)
}

// Params is the free-form parameter bag attached to a test item. Values come
// from plan files as strings, numbers, or lists; accessors coerce on read so
// drivers see the type they expect regardless of how the plan was authored.
type Params map[string]interface{}

// Clone returns a shallow copy. The dispatcher clones before substituting
// use_result values so the plan item itself stays immutable.
func (p Params) Clone() Params {
	q := make(Params, len(p))
	for k, v := range p {
		q[k] = v
	}
	return q
}

// Has reports whether key is present.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns the value at key rendered as a string.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	return scalarString(v)
}

func scalarString(v interface{}) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// Float returns the value at key as a float64, parsing strings if needed.
func (p Params) Float(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Int returns the value at key as an int, parsing strings if needed.
// Float values are accepted only when integral.
func (p Params) Int(key string) (int, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		if x != float64(int(x)) {
			return 0, false
		}
		return int(x), true
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Strings returns the value at key as a string slice. A scalar is returned
// as a one-element slice; list elements are rendered the way String renders
// scalars, so YAML integer lists work.
func (p Params) Strings(key string) ([]string, bool) {
	v, ok := p[key]
	if !ok {
		return nil, false
	}
	switch x := v.(type) {
	case []string:
		return x, true
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := scalarString(e)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	if s, ok := scalarString(v); ok {
		return []string{s}, true
	}
	return nil, false
}

// Item is one row of a test plan. The session engine treats items as
// immutable for the session's duration.
type Item struct {
	ID           int64
	ItemNo       int
	ItemName     string
	ItemKey      string
	Command      string
	SwitchMode   string
	Params       Params
	ValueType    ValueType
	LimitType    LimitType
	LowerLimit   *float64
	UpperLimit   *float64
	EqLimit      string
	HasEqLimit   bool
	Unit         string
	Enabled      bool
	TimeoutMS    int    // 0 means use the configured default
	WaitMS       int
	UseResult    string // item_key of the item whose value substitutes a parameter
	UseResultKey string // parameter key receiving the substituted value
}

// Validate checks the limit-type invariants for a single item.
func (it *Item) Validate() error {
	switch it.LimitType {
	case LimitLower:
		if it.LowerLimit == nil {
			return errors.Errorf("item %d (%s): limit_type lower requires lower_limit", it.ItemNo, it.ItemKey)
		}
	case LimitUpper:
		if it.UpperLimit == nil {
			return errors.Errorf("item %d (%s): limit_type upper requires upper_limit", it.ItemNo, it.ItemKey)
		}
	case LimitBoth:
		if it.LowerLimit == nil || it.UpperLimit == nil {
			return errors.Errorf("item %d (%s): limit_type both requires lower_limit and upper_limit", it.ItemNo, it.ItemKey)
		}
	case LimitEquality, LimitPartial, LimitInequality:
		if !it.HasEqLimit {
			return errors.Errorf("item %d (%s): limit_type %s requires eq_limit", it.ItemNo, it.ItemKey, it.LimitType)
		}
	case LimitNone:
	default:
		return errors.Errorf("item %d (%s): unknown limit_type %q", it.ItemNo, it.ItemKey, it.LimitType)
	}
	switch it.ValueType {
	case ValueInteger, ValueFloat, ValueString:
	default:
		return errors.Errorf("item %d (%s): unknown value_type %q", it.ItemNo, it.ItemKey, it.ValueType)
	}
	return nil
}
