// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package eval

import (
	"testing"

	"github.com/sprigga/webpdtool/internal/plan"
)

func fptr(f float64) *float64 { return &f }

func TestCoerce(t *testing.T) {
	for _, tc := range []struct {
		raw     string
		vt      plan.ValueType
		want    string
		wantErr bool
	}{
		{"42", plan.ValueInteger, "42", false},
		{" -7 ", plan.ValueInteger, "-7", false},
		{"42.5", plan.ValueInteger, "", true},
		{"1,000", plan.ValueInteger, "", true},
		{"5.00", plan.ValueFloat, "5", false},
		{"1.2e-3", plan.ValueFloat, "0.0012", false},
		{"bogus", plan.ValueFloat, "", true},
		{"OK\r\n", plan.ValueString, "OK", false},
		{"  spaced  ", plan.ValueString, "  spaced  ", false},
	} {
		got, err := Coerce(tc.raw, tc.vt)
		if tc.wantErr {
			if err == nil {
				t.Errorf("Coerce(%q, %s) unexpectedly succeeded with %q", tc.raw, tc.vt, got.String())
			}
			continue
		}
		if err != nil {
			t.Errorf("Coerce(%q, %s) failed: %v", tc.raw, tc.vt, err)
			continue
		}
		if got.String() != tc.want {
			t.Errorf("Coerce(%q, %s) = %q; want %q", tc.raw, tc.vt, got.String(), tc.want)
		}
	}
}

func TestEvaluate(t *testing.T) {
	for _, tc := range []struct {
		name string
		raw  string
		item plan.Item
		want bool
	}{
		{"none always passes", "anything", plan.Item{ValueType: plan.ValueString, LimitType: plan.LimitNone}, true},
		{"lower pass at bound", "4.9", plan.Item{ValueType: plan.ValueFloat, LimitType: plan.LimitLower, LowerLimit: fptr(4.9)}, true},
		{"lower fail", "4.89", plan.Item{ValueType: plan.ValueFloat, LimitType: plan.LimitLower, LowerLimit: fptr(4.9)}, false},
		{"upper pass", "5.1", plan.Item{ValueType: plan.ValueFloat, LimitType: plan.LimitUpper, UpperLimit: fptr(5.1)}, true},
		{"both pass", "5.0", plan.Item{ValueType: plan.ValueFloat, LimitType: plan.LimitBoth, LowerLimit: fptr(4.9), UpperLimit: fptr(5.1)}, true},
		{"both fail high", "5.2", plan.Item{ValueType: plan.ValueFloat, LimitType: plan.LimitBoth, LowerLimit: fptr(4.9), UpperLimit: fptr(5.1)}, false},
		{"numeric equality ignores formatting", "5.00", plan.Item{ValueType: plan.ValueFloat, LimitType: plan.LimitEquality, EqLimit: "5", HasEqLimit: true}, true},
		{"string equality exact", "DONE", plan.Item{ValueType: plan.ValueString, LimitType: plan.LimitEquality, EqLimit: "DONE", HasEqLimit: true}, true},
		{"string equality case-sensitive", "done", plan.Item{ValueType: plan.ValueString, LimitType: plan.LimitEquality, EqLimit: "DONE", HasEqLimit: true}, false},
		{"partial contains", "STATUS=OK;", plan.Item{ValueType: plan.ValueString, LimitType: plan.LimitPartial, EqLimit: "OK", HasEqLimit: true}, true},
		{"partial missing", "STATUS=BAD;", plan.Item{ValueType: plan.ValueString, LimitType: plan.LimitPartial, EqLimit: "OK", HasEqLimit: true}, false},
		{"inequality pass", "3", plan.Item{ValueType: plan.ValueInteger, LimitType: plan.LimitInequality, EqLimit: "4", HasEqLimit: true}, true},
		{"inequality fail", "4", plan.Item{ValueType: plan.ValueInteger, LimitType: plan.LimitInequality, EqLimit: "4", HasEqLimit: true}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			v, err := Coerce(tc.raw, tc.item.ValueType)
			if err != nil {
				t.Fatalf("Coerce(%q) failed: %v", tc.raw, err)
			}
			got, err := Evaluate(v, &tc.item)
			if err != nil {
				t.Fatalf("Evaluate() failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("Evaluate(%q) = %v; want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestEvaluateTypeMismatch(t *testing.T) {
	v, err := Coerce("text", plan.ValueString)
	if err != nil {
		t.Fatal(err)
	}
	it := &plan.Item{ValueType: plan.ValueString, LimitType: plan.LimitBoth, LowerLimit: fptr(0), UpperLimit: fptr(1)}
	if _, err := Evaluate(v, it); err == nil {
		t.Error("Evaluate() accepted numeric bounds on a string value")
	}

	nv, err := Coerce("5", plan.ValueFloat)
	if err != nil {
		t.Fatal(err)
	}
	pit := &plan.Item{ValueType: plan.ValueFloat, LimitType: plan.LimitPartial, EqLimit: "5", HasEqLimit: true}
	if _, err := Evaluate(nv, pit); err == nil {
		t.Error("Evaluate() accepted partial match on a numeric value")
	}
}
