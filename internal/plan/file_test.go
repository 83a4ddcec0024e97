// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package plan

import (
	"testing"
)

const samplePlan = `
items:
  - item_no: 2
    item_name: Read 5V
    item_key: read5v
    command: PowerRead
    parameters:
      instrument: PSU_1
      measure: voltage
    value_type: float
    limit_type: both
    lower_limit: 4.9
    upper_limit: 5.1
    unit: V
  - item_no: 1
    item_name: Set 5V
    item_key: set5v
    command: PowerSet
    parameters:
      instrument: PSU_1
      volt: "5.0"
      channels: [101, 102]
    value_type: float
    limit_type: none
`

func TestParseFile(t *testing.T) {
	items, err := ParseFile([]byte(samplePlan))
	if err != nil {
		t.Fatalf("ParseFile() failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("ParseFile() returned %d items; want 2", len(items))
	}
	// Normalized into item_no order.
	if items[0].ItemKey != "set5v" || items[1].ItemKey != "read5v" {
		t.Errorf("order = [%s %s]; want [set5v read5v]", items[0].ItemKey, items[1].ItemKey)
	}
	it := items[1]
	if it.ValueType != ValueFloat || it.LimitType != LimitBoth || *it.LowerLimit != 4.9 {
		t.Errorf("read5v parsed as %+v", it)
	}
	if v, ok := items[0].Params.Float("volt"); !ok || v != 5.0 {
		t.Errorf("volt = (%v, %v); want (5, true)", v, ok)
	}
	if ss, ok := items[0].Params.Strings("channels"); !ok || len(ss) != 2 || ss[0] != "101" {
		t.Errorf("channels = (%v, %v); want ([101 102], true)", ss, ok)
	}
}

func TestParseFileRejects(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
	}{
		{"bad value type", "items:\n  - {item_no: 1, item_key: a, command: X, value_type: blob, limit_type: none}\n"},
		{"bad limit type", "items:\n  - {item_no: 1, item_key: a, command: X, value_type: string, limit_type: maybe}\n"},
		{"gap in numbering", "items:\n  - {item_no: 2, item_key: a, command: X, value_type: string, limit_type: none}\n"},
		{"not yaml", "items: ["},
	} {
		if _, err := ParseFile([]byte(tc.doc)); err == nil {
			t.Errorf("%s: ParseFile() accepted an invalid document", tc.name)
		}
	}
}
