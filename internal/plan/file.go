// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package plan

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/sprigga/webpdtool/errors"
)

// fileItem is the YAML shape of one plan item.
type fileItem struct {
	ItemNo       int                    `yaml:"item_no"`
	ItemName     string                 `yaml:"item_name"`
	ItemKey      string                 `yaml:"item_key"`
	Command      string                 `yaml:"command"`
	SwitchMode   string                 `yaml:"switch_mode"`
	Parameters   map[string]interface{} `yaml:"parameters"`
	ValueType    string                 `yaml:"value_type"`
	LimitType    string                 `yaml:"limit_type"`
	LowerLimit   *float64               `yaml:"lower_limit"`
	UpperLimit   *float64               `yaml:"upper_limit"`
	EqLimit      *string                `yaml:"eq_limit"`
	Unit         string                 `yaml:"unit"`
	Enabled      *bool                  `yaml:"enabled"`
	TimeoutMS    int                    `yaml:"timeout_ms"`
	WaitMS       int                    `yaml:"wait_ms"`
	UseResult    string                 `yaml:"use_result"`
	UseResultKey string                 `yaml:"use_result_key"`
}

type fileDoc struct {
	Items []fileItem `yaml:"items"`
}

// LoadFile reads a plan document from a YAML file and normalizes it.
func LoadFile(path string) ([]*Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read plan %s", path)
	}
	items, err := ParseFile(data)
	if err != nil {
		return nil, errors.Wrapf(err, "in plan %s", path)
	}
	return items, nil
}

// ParseFile parses and normalizes a YAML plan document.
func ParseFile(data []byte) ([]*Item, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse plan")
	}
	items := make([]*Item, 0, len(doc.Items))
	for _, fi := range doc.Items {
		vt, err := ParseValueType(fi.ValueType)
		if err != nil {
			return nil, errors.Wrapf(err, "item %d", fi.ItemNo)
		}
		lt, err := ParseLimitType(fi.LimitType)
		if err != nil {
			return nil, errors.Wrapf(err, "item %d", fi.ItemNo)
		}
		it := &Item{
			ItemNo:       fi.ItemNo,
			ItemName:     fi.ItemName,
			ItemKey:      fi.ItemKey,
			Command:      fi.Command,
			SwitchMode:   fi.SwitchMode,
			Params:       cleanParams(fi.Parameters),
			ValueType:    vt,
			LimitType:    lt,
			LowerLimit:   fi.LowerLimit,
			UpperLimit:   fi.UpperLimit,
			Unit:         fi.Unit,
			Enabled:      fi.Enabled == nil || *fi.Enabled,
			TimeoutMS:    fi.TimeoutMS,
			WaitMS:       fi.WaitMS,
			UseResult:    fi.UseResult,
			UseResultKey: fi.UseResultKey,
		}
		if fi.EqLimit != nil {
			it.EqLimit, it.HasEqLimit = *fi.EqLimit, true
		}
		items = append(items, it)
	}
	return Normalize(items)
}

// cleanParams rewrites the map keys YAML produces for nested values into
// string-keyed maps so Params accessors work uniformly.
func cleanParams(m map[string]interface{}) Params {
	if m == nil {
		return nil
	}
	p := make(Params, len(m))
	for k, v := range m {
		p[k] = cleanValue(v)
	}
	return p
}

func cleanValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			if ks, ok := k.(string); ok {
				out[ks] = cleanValue(e)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = cleanValue(e)
		}
		return out
	}
	return v
}
