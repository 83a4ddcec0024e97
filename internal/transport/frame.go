// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package transport

import (
	"context"

	"github.com/sprigga/webpdtool/errors"
)

// maxSyncScan bounds how many bytes are discarded while hunting for a sync
// word before giving up with ErrSyncLost.
const maxSyncScan = 4096

// frameSpec describes a framed protocol header for the sliding-window
// detector.
type frameSpec struct {
	// headerLen is the size of the detection window in bytes.
	headerLen int
	// checkHeader inspects a window of headerLen bytes. If the window starts
	// with a valid sync word it returns the total frame length in bytes
	// (header included) and true.
	checkHeader func(hdr []byte) (frameLen int, ok bool)
}

// detectFrame implements the three-step frame detection shared by the fixture
// protocols: (1) scan bytes into a sliding window until the window decodes a
// header whose sync word matches; (2) read the declared remainder of the
// frame; (3) leave CRC verification to the caller, which knows where the
// checksum lives.
//
// The returned slices are the header window and the bytes following it.
func detectFrame(ctx context.Context, c Conn, spec frameSpec) (hdr, rest []byte, err error) {
	hdr = make([]byte, spec.headerLen)
	if err := readFull(ctx, c, hdr); err != nil {
		return nil, nil, errors.Wrap(err, "failed to read frame header")
	}

	var frameLen int
	scanned := 0
	for {
		n, ok := spec.checkHeader(hdr)
		if ok {
			frameLen = n
			break
		}
		if scanned++; scanned > maxSyncScan {
			return nil, nil, errors.Wrapf(ErrSyncLost, "no sync word in %d bytes", scanned)
		}
		// Slide the window by one byte.
		copy(hdr, hdr[1:])
		if err := readFull(ctx, c, hdr[spec.headerLen-1:]); err != nil {
			return nil, nil, errors.Wrap(err, "failed to slide sync window")
		}
	}

	if frameLen < spec.headerLen {
		return nil, nil, errors.Wrapf(ErrSyncLost, "frame length %d shorter than header", frameLen)
	}

	rest = make([]byte, frameLen-spec.headerLen)
	if err := readFull(ctx, c, rest); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil, nil, errors.Wrapf(ErrTruncated, "frame body cut short: %v", err)
		}
		return nil, nil, errors.Wrap(err, "failed to read frame body")
	}
	return hdr, rest, nil
}
