// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package plan

// Point is the per-session execution record for one item. The session engine
// updates the mutable fields after the item terminates; use_result reads
// them when a later item runs.
type Point struct {
	Item     *Item
	Executed bool
	Passed   bool
	Value    string
}

// PointMap is the session-scoped view over a normalized plan: enabled items
// in item_no order, addressable by item_key. One session task owns a
// PointMap; it is not safe for cross-task access.
type PointMap struct {
	points []*Point
	byKey  map[string]*Point
}

// NewPointMap builds a PointMap from normalized items, skipping disabled ones.
func NewPointMap(items []*Item) *PointMap {
	m := &PointMap{byKey: make(map[string]*Point)}
	for _, it := range items {
		if !it.Enabled {
			continue
		}
		p := &Point{Item: it}
		m.points = append(m.points, p)
		m.byKey[it.ItemKey] = p
	}
	return m
}

// Points returns the execution records in item_no order.
func (m *PointMap) Points() []*Point { return m.points }

// Len returns the number of enabled items.
func (m *PointMap) Len() int { return len(m.points) }

// Lookup returns the record for the given item_key.
func (m *PointMap) Lookup(key string) (*Point, bool) {
	p, ok := m.byKey[key]
	return p, ok
}
