// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package eval coerces raw instrument readings into typed values and applies
// limit rules to decide PASS or FAIL.
package eval

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/plan"
)

// Value is a reading coerced to its declared value type. Numeric values use
// decimal arithmetic so readings like 0.1 survive comparison intact.
type Value struct {
	Type plan.ValueType
	Num  decimal.Decimal // valid for integer and float
	Str  string          // valid for string
}

// String returns the canonical representation persisted as measured_value.
func (v Value) String() string {
	if v.Type == plan.ValueString {
		return v.Str
	}
	return v.Num.String()
}

// Coerce parses a raw reading according to the item's value type.
func Coerce(raw string, vt plan.ValueType) (Value, error) {
	switch vt {
	case plan.ValueInteger:
		s := strings.TrimSpace(raw)
		if strings.Contains(s, ",") {
			return Value{}, errors.Errorf("integer reading %q contains a comma", raw)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Value{}, errors.Wrapf(err, "cannot parse %q as integer", raw)
		}
		if !d.IsInteger() {
			return Value{}, errors.Errorf("reading %q is not integral", raw)
		}
		return Value{Type: vt, Num: d}, nil
	case plan.ValueFloat:
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return Value{}, errors.Wrapf(err, "cannot parse %q as float", raw)
		}
		return Value{Type: vt, Num: d}, nil
	case plan.ValueString:
		return Value{Type: vt, Str: strings.TrimRight(raw, "\r\n")}, nil
	}
	return Value{}, errors.Errorf("unknown value_type %q", vt)
}

// Evaluate applies the item's limit rule to a coerced value. Unspecified
// bounds are unbounded. It returns an error only when the item's declared
// types make the rule inapplicable, for example a numeric bound on a string
// reading.
func Evaluate(v Value, it *plan.Item) (bool, error) {
	switch it.LimitType {
	case plan.LimitNone:
		return true, nil
	case plan.LimitLower, plan.LimitUpper, plan.LimitBoth:
		if v.Type == plan.ValueString {
			return false, errors.Errorf("limit_type %s requires a numeric value_type", it.LimitType)
		}
		if it.LowerLimit != nil && v.Num.LessThan(decimal.NewFromFloat(*it.LowerLimit)) {
			return false, nil
		}
		if it.UpperLimit != nil && v.Num.GreaterThan(decimal.NewFromFloat(*it.UpperLimit)) {
			return false, nil
		}
		return true, nil
	case plan.LimitEquality, plan.LimitInequality:
		eq, err := compareEq(v, it.EqLimit)
		if err != nil {
			return false, err
		}
		if it.LimitType == plan.LimitInequality {
			return !eq, nil
		}
		return eq, nil
	case plan.LimitPartial:
		if v.Type != plan.ValueString {
			return false, errors.New("limit_type partial requires value_type string")
		}
		return strings.Contains(v.Str, it.EqLimit), nil
	}
	return false, errors.Errorf("unknown limit_type %q", it.LimitType)
}

func compareEq(v Value, limit string) (bool, error) {
	if v.Type == plan.ValueString {
		return v.Str == limit, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(limit))
	if err != nil {
		return false, errors.Wrapf(err, "eq_limit %q is not numeric", limit)
	}
	return v.Num.Equal(d), nil
}
