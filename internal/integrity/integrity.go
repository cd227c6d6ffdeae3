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

// Package integrity computes the CRC64 the receiver checks once all
// fragments have been reassembled.
//
// This is a corruption check, not a trust primitive: anyone can recompute
// it, authenticity comes from the package signature.
package integrity

import (
	"fmt"
	"hash/crc64"
)

const (
	ECMA Polynomial = iota
	ISO
)

// Polynomial selects the CRC-64 generator polynomial.
type Polynomial int

func (p Polynomial) String() string {
	switch p {
	case ECMA:
		return "ecma"
	case ISO:
		return "iso"
	}
	return fmt.Sprintf("Polynomial(%d)", int(p))
}

// ParsePolynomial is the inverse of Polynomial.String, "" means ECMA.
func ParsePolynomial(s string) (Polynomial, error) {
	switch s {
	case "", "ecma":
		return ECMA, nil
	case "iso":
		return ISO, nil
	}
	return 0, fmt.Errorf("unknown CRC-64 polynomial %q", s)
}

var (
	ecmaTable = crc64.MakeTable(crc64.ECMA)
	isoTable  = crc64.MakeTable(crc64.ISO)
)

// Hasher computes CRC-64 checksums with a fixed polynomial.
type Hasher struct {
	table *crc64.Table
}

// New returns a Hasher for p.
func New(p Polynomial) (Hasher, error) {
	switch p {
	case ECMA:
		return Hasher{table: ecmaTable}, nil
	case ISO:
		return Hasher{table: isoTable}, nil
	}
	return Hasher{}, fmt.Errorf("unsupported polynomial %v", p)
}

// Sum returns the checksum of b.
func (h Hasher) Sum(b []byte) uint64 {
	t := h.table
	if t == nil {
		t = ecmaTable
	}
	return crc64.Checksum(b, t)
}

// Sum returns the CRC-64/ECMA-182 checksum of the package bytes.
func Sum(b []byte) uint64 {
	return crc64.Checksum(b, ecmaTable)
}
