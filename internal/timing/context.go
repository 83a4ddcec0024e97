// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package timing

import "context"

type key int // unexported context.Context key type to avoid collisions with other packages

const logKey key = iota // key used for attaching a Log to a context.Context

// NewContext returns a new context that carries value l.
func NewContext(ctx context.Context, l *Log) context.Context {
	return context.WithValue(ctx, logKey, l)
}

// FromContext returns the Log value stored in ctx, if any.
func FromContext(ctx context.Context) (*Log, bool) {
	l, ok := ctx.Value(logKey).(*Log)
	return l, ok
}

// Start starts and returns a new Stage named name within the Log attached
// to ctx. If no Log is attached to ctx, nil is returned. It is safe to call
// End on a nil stage.
//
// Example usage to report the time used until the end of the current function:
//
//	defer timing.Start(ctx, "measure_voltage").End()
func Start(ctx context.Context, name string) *Stage {
	l, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	return l.Start(name)
}
