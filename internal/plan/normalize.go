// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package plan

import (
	"sort"

	"github.com/sprigga/webpdtool/errors"
)

// Normalize validates a loaded plan and returns its items sorted by item_no.
// It enforces the plan-level invariants: item_no values are unique and
// contiguous starting at 1, item_key values are unique, every use_result
// reference names an earlier item, and each item's limit fields are
// consistent with its limit_type.
func Normalize(items []*Item) ([]*Item, error) {
	if len(items) == 0 {
		return nil, errors.New("test plan has no items")
	}

	sorted := append([]*Item(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ItemNo < sorted[j].ItemNo })

	keys := make(map[string]int, len(sorted))
	for i, it := range sorted {
		if want := i + 1; it.ItemNo != want {
			return nil, errors.Errorf("item_no sequence broken: got %d, want %d", it.ItemNo, want)
		}
		if it.ItemKey == "" {
			return nil, errors.Errorf("item %d has empty item_key", it.ItemNo)
		}
		if prev, ok := keys[it.ItemKey]; ok {
			return nil, errors.Errorf("duplicate item_key %q (items %d and %d)", it.ItemKey, prev, it.ItemNo)
		}
		keys[it.ItemKey] = it.ItemNo
		if err := it.Validate(); err != nil {
			return nil, err
		}
	}

	for _, it := range sorted {
		if it.UseResult == "" {
			continue
		}
		ref, ok := keys[it.UseResult]
		if !ok {
			return nil, errors.Errorf("item %d: use_result references unknown item_key %q", it.ItemNo, it.UseResult)
		}
		if ref >= it.ItemNo {
			return nil, errors.Errorf("item %d: use_result must reference an earlier item, got %d", it.ItemNo, ref)
		}
		if it.UseResultKey == "" {
			return nil, errors.Errorf("item %d: use_result set without a target parameter key", it.ItemNo)
		}
	}
	return sorted, nil
}
