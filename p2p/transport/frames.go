// Copyright (C) 2025 kademesh
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package transport implements the router/dealer socket pair: a single
// inbound-identity-addressed Router and a lazily-created per-peer Dealer
// pool, both over WebSocket connections.
package transport

import (
	"encoding/binary"
	"fmt"
)

// EncodeFrames packs a multipart frame sequence into one WebSocket
// message: a count, then each frame length-prefixed. WebSocket already
// frames at the message boundary; this recovers the router/dealer
// multipart-frame semantics the codec expects within that boundary.
func EncodeFrames(frames [][]byte) []byte {
	size := 4
	for _, f := range frames {
		size += 4 + len(f)
	}
	out := make([]byte, size)
	binary.BigEndian.PutUint32(out, uint32(len(frames)))
	offset := 4
	for _, f := range frames {
		binary.BigEndian.PutUint32(out[offset:], uint32(len(f)))
		offset += 4
		copy(out[offset:], f)
		offset += len(f)
	}
	return out
}

// DecodeFrames reverses EncodeFrames.
func DecodeFrames(data []byte) ([][]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("frame message too short: %d bytes", len(data))
	}
	count := binary.BigEndian.Uint32(data)
	offset := 4
	frames := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if offset+4 > len(data) {
			return nil, fmt.Errorf("truncated frame length at frame %d", i)
		}
		l := binary.BigEndian.Uint32(data[offset:])
		offset += 4
		if offset+int(l) > len(data) {
			return nil, fmt.Errorf("truncated frame body at frame %d", i)
		}
		frame := make([]byte, l)
		copy(frame, data[offset:offset+int(l)])
		frames = append(frames, frame)
		offset += int(l)
	}
	return frames, nil
}
