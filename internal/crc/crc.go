// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package crc computes the frame checksums used by the fixture protocols.
package crc

import (
	"hash/crc32"

	"github.com/sigurn/crc16"
)

var kermitTable = crc16.MakeTable(crc16.CRC16_KERMIT)

// Kermit16 computes the CRC-16/KERMIT checksum of data in wire byte order
// (low byte transmitted first). The checksum of "123456789" is 0x8921.
func Kermit16(data []byte) uint16 {
	c := crc16.Checksum(data, kermitTable)
	return c<<8 | c>>8
}

// ISOHDLC32 computes the CRC-32/ISO-HDLC checksum of data. This is the same
// algorithm zlib uses; the checksum of "123456789" is 0xCBF43926.
func ISOHDLC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
