// Copyright 2024 The FOTA Packager authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package frag turns a signed package into the fragmentation header and
// fragment rows consumed by the receiver.
//
// The encoder producing the rows frames its output with a different byte
// order than the receiver's parser expects, Normalize maps one onto the
// other.
package frag

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/api"
)

// Raw header fields swapped by the encoder: it writes the fragment count
// high byte first, the receiver reads it low byte first.
const (
	rawNbFragHiIndex = api.HeaderNbFragLoIndex
	rawNbFragLoIndex = api.HeaderNbFragHiIndex
)

// Raw row fields swapped by the encoder, same story for the frame counter.
const (
	rawCounterHiIndex = api.RowCounterLoIndex
	rawCounterLoIndex = api.RowCounterHiIndex
)

// sessionShift moves the fragmentation session index from the low nibble,
// where the encoder writes it, to the high nibble read by the receiver.
const (
	sessionShift = 4
	maxNibble    = 0x0F
)

// Set is a receiver-ready fragmentation header and its fragment rows.
type Set struct {
	// Header is the FRAG_SESSION_SETUP_REQ payload, padding included.
	Header []byte
	// Fragments holds the DATA_FRAGMENT rows in transmission order.
	Fragments [][]byte
	// Padding is the number of zero bytes appended to fill the last fragment.
	Padding byte
	// PayloadWidth is the number of data bytes carried by each row.
	PayloadWidth int
}

// RowWidth returns the width of every row in the set.
func (s *Set) RowWidth() int {
	return api.RowWidth(s.PayloadWidth)
}

// Padding returns the number of bytes needed to make total a multiple of width.
func Padding(total, width int) int {
	return (width - total%width) % width
}

// Normalize applies the receiver's byte order to a raw encoder output.
//
// total is the length of the data handed to the encoder and width the
// fragment payload width it was asked for. The raw inputs are not modified.
// Normalize must be applied exactly once to any given encoder output.
func Normalize(rawHeader []byte, rawRows [][]byte, total, width int) (*Set, error) {
	if width <= 0 || width > 0xFF {
		return nil, fmt.Errorf("%w: payload width %d out of range", api.ErrMalformedFragment, width)
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: negative data length %d", api.ErrMalformedHeader, total)
	}
	if l := len(rawHeader); l < api.RawHeaderLength {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d", api.ErrMalformedHeader, l, api.RawHeaderLength)
	}
	// Whether the index fits the receiver's two bits is checked where the
	// session is configured and parsed, here it only has to survive the shift.
	if s := rawHeader[api.HeaderSessionIndex]; s > maxNibble {
		return nil, fmt.Errorf("%w: session field %#x does not fit a nibble", api.ErrMalformedHeader, s)
	}

	hdr := make([]byte, len(rawHeader), len(rawHeader)+1)
	copy(hdr, rawHeader)
	hdr[api.HeaderSessionIndex] <<= sessionShift
	hdr[rawNbFragHiIndex], hdr[rawNbFragLoIndex] = hdr[rawNbFragLoIndex], hdr[rawNbFragHiIndex]
	pad := Padding(total, width)
	hdr = append(hdr, byte(pad))

	rw := api.RowWidth(width)
	rows := make([][]byte, len(rawRows))
	for i, r := range rawRows {
		if len(r) < rw {
			return nil, fmt.Errorf("%w: row %d is %d bytes, want %d", api.ErrMalformedFragment, i, len(r), rw)
		}
		row := append([]byte(nil), r...)
		row[rawCounterHiIndex], row[rawCounterLoIndex] = row[rawCounterLoIndex], row[rawCounterHiIndex]
		rows[i] = row
	}

	klog.V(2).Infof("Normalized header % x (%d rows of %d bytes, padding %d)", hdr, len(rows), rw, pad)

	return &Set{
		Header:       hdr,
		Fragments:    rows,
		Padding:      byte(pad),
		PayloadWidth: width,
	}, nil
}
