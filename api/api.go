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

// Package api describes the contract shared between the packager and the
// receiving device firmware: fixed field widths, the byte offsets the
// receiver's fragmentation parser reads, and the error kinds surfaced by a
// packaging run.
package api

import (
	"errors"
	"fmt"
)

const (
	// UUIDLength is the width of the manufacturer and device class identifiers.
	UUIDLength = 16

	// DiffInfoLength is the width of the diff descriptor block: a flag byte
	// followed by a 24-bit big-endian base image size.
	DiffInfoLength = 4

	// MaxBaseSize is the largest base image size representable in the diff
	// descriptor.
	MaxBaseSize = 1<<24 - 1
)

// LoRaWAN fragmentation commands understood by the receiver.
const (
	// FragSessionSetupReq opens a fragmentation session, its payload is the
	// corrected packets header.
	FragSessionSetupReq = 0x02
	// DataFragment tags every fragment row.
	DataFragment = 0x08

	// MaxSession is the highest fragmentation session index, the receiver
	// keeps two bits of it.
	MaxSession = 3
)

// Receiver view of the FRAG_SESSION_SETUP_REQ header, once corrected.
const (
	HeaderCommandIndex  = 0
	HeaderSessionIndex  = 1
	HeaderNbFragLoIndex = 2
	HeaderNbFragHiIndex = 3
	HeaderFragSizeIndex = 4
	HeaderEncodingIndex = 5
	HeaderPaddingIndex  = 6

	// RawHeaderLength is the number of header bytes produced by the encoder,
	// the receiver expects one more (padding).
	RawHeaderLength = 6
	// HeaderLength is the corrected FRAG_SESSION_SETUP_REQ length.
	HeaderLength = RawHeaderLength + 1
)

// Receiver view of a DATA_FRAGMENT row.
const (
	RowTagIndex       = 0
	RowCounterLoIndex = 1
	RowCounterHiIndex = 2
	// RowOverhead is the number of bytes preceding the fragment payload.
	RowOverhead = 3

	// DefaultFragmentSize is the fragment payload width used by the
	// reference receiver configuration.
	DefaultFragmentSize = 204
)

// RowWidth returns the full width of a fragment row carrying payloadWidth
// bytes of data.
func RowWidth(payloadWidth int) int {
	return RowOverhead + payloadWidth
}

var (
	ErrIdentityMissing            = errors.New("identity not provisioned")
	ErrPayloadTooLarge            = errors.New("base image too large for 24-bit size field")
	ErrSignatureLengthUnsupported = errors.New("unsupported signature length")
	ErrMalformedHeader            = errors.New("malformed fragmentation header")
	ErrMalformedFragment          = errors.New("malformed fragment row")
	ErrKeyMaterialUnparseable     = errors.New("key material unparseable")
)

// CollaboratorError wraps a failure surfaced by one of the external
// collaborators (signer, diff engine, fragmenter).
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Collaborator wraps err as a CollaboratorError, nil errors stay nil.
func Collaborator(name string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Collaborator: name, Err: err}
}
