// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vlog

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/paullcm/WiscKey/errors"
)

// HeaderSize is the number of bytes in a record header: a 4-byte masked
// CRC32C followed by a 3-byte little-endian payload length.
const HeaderSize = 7

// MaxPayloadSize is the largest payload a single record can carry: the
// 3-byte length field tops out at 2^24-1 bytes.
const MaxPayloadSize = 1<<24 - 1

const crcMaskDelta = 0xa282ead8

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// maskCRC applies LevelDB's CRC masking: rotate right 15 and add a
// constant. Masking a CRC that is itself the CRC of masked data hides
// bit patterns that would otherwise coincidentally look like a valid
// record, protecting against a class of log-format ambiguity bugs.
func maskCRC(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + crcMaskDelta
}

// unmaskCRC reverses maskCRC.
func unmaskCRC(masked uint32) uint32 {
	rot := masked - crcMaskDelta
	return (rot >> 17) | (rot << 15)
}

// Encode appends the framed record for payload to b and returns the
// extended slice. The frame is HeaderSize+len(payload) bytes long.
func Encode(b []byte, payload []byte) ([]byte, error) {
	const op errors.Op = "vlog.Encode"
	if len(payload) > MaxPayloadSize {
		return nil, errors.E(op, errors.Invalid, errors.Errorf("payload of %d bytes exceeds max %d", len(payload), MaxPayloadSize))
	}
	var hdr [HeaderSize]byte
	putLength(hdr[4:7], len(payload))
	crc := crc32.Checksum(payload, castagnoliTable)
	binary.LittleEndian.PutUint32(hdr[0:4], maskCRC(crc))
	b = append(b, hdr[:]...)
	b = append(b, payload...)
	return b, nil
}

func putLength(b []byte, n int) {
	b[0] = byte(n)
	b[1] = byte(n >> 8)
	b[2] = byte(n >> 16)
}

func getLength(b []byte) int {
	return int(b[0]) | int(b[1])<<8 | int(b[2])<<16
}

// decodedHeader is a parsed, not-yet-verified record header.
type decodedHeader struct {
	expectedCRC uint32
	length      int
}

// decodeHeader parses a HeaderSize-byte header. It does not touch payload
// data, so callers can extract the expected CRC before doing anything else
// that might reuse or invalidate the buffer holding the payload.
func decodeHeader(hdr []byte) decodedHeader {
	return decodedHeader{
		expectedCRC: unmaskCRC(binary.LittleEndian.Uint32(hdr[0:4])),
		length:      getLength(hdr[4:7]),
	}
}

// verify checks payload against the header's expected CRC, which must
// have been decoded from the header before payload was mutated. The CRC
// covers the payload only, matching the on-disk format.
func (h decodedHeader) verify(payload []byte) bool {
	return crc32.Checksum(payload, castagnoliTable) == h.expectedCRC
}
