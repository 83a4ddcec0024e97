// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package transport

import stderrors "errors"

// Sentinel errors reported by transports. Framing errors are never retried
// here; retries are a policy of higher layers (the dispatcher retries once
// for retry-safe drivers).
var (
	// ErrOpen indicates that a device or socket could not be opened.
	ErrOpen = stderrors.New("transport open error")
	// ErrTimeout indicates that a read exceeded its deadline.
	ErrTimeout = stderrors.New("transport timeout")
	// ErrClosed indicates an operation on a closed transport.
	ErrClosed = stderrors.New("transport closed")
	// ErrSyncLost indicates that no sync word was found in the byte stream.
	ErrSyncLost = stderrors.New("frame sync lost")
	// ErrCRC indicates a CRC mismatch on a received frame.
	ErrCRC = stderrors.New("frame CRC error")
	// ErrTruncated indicates a frame shorter than its declared length.
	ErrTruncated = stderrors.New("frame truncated")
	// ErrConnect indicates that a device handshake failed.
	ErrConnect = stderrors.New("connect failed")
)

// IsTransient reports whether err is a transport failure that a retry-safe
// driver may be retried on.
func IsTransient(err error) bool {
	return stderrors.Is(err, ErrCRC) || stderrors.Is(err, ErrTimeout) || stderrors.Is(err, ErrConnect)
}
