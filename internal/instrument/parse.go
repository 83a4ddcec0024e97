// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package instrument

import (
	"strconv"
	"strings"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/plan"
)

// parseFloat parses an instrument response as a float, tolerating the
// surrounding whitespace SCPI instruments emit.
func parseFloat(raw string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, errors.Errorf("non-numeric instrument response %q", raw)
	}
	return f, nil
}

// channelList renders channels in SCPI list syntax, e.g. "(@101,102)".
func channelList(channels []int) string {
	var b strings.Builder
	b.WriteString("(@")
	for i, ch := range channels {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(ch))
	}
	b.WriteByte(')')
	return b.String()
}

// paramChannels reads the "channels" parameter as a list of ints; a scalar
// "channel" parameter is accepted as a one-element list.
func paramChannels(p plan.Params) ([]int, error) {
	if ch, ok := p.Int("channel"); ok {
		return []int{ch}, nil
	}
	ss, ok := p.Strings("channels")
	if !ok {
		return nil, errors.Wrap(ErrBadParameter, "channel or channels is required")
	}
	out := make([]int, 0, len(ss))
	for _, s := range ss {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, errors.Wrapf(ErrBadParameter, "channel %q is not an integer", s)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, errors.Wrap(ErrBadParameter, "channels is empty")
	}
	return out, nil
}
