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

// Package receiver reads fragmentation artifacts back the way the device
// firmware does, so that a packaging run can be checked before broadcast.
package receiver

import (
	"bytes"
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/api"
	"github.com/transparency-dev/fota-packager/internal/anchor"
	"github.com/transparency-dev/fota-packager/internal/bundle"
	"github.com/transparency-dev/fota-packager/internal/integrity"
	"github.com/transparency-dev/fota-packager/internal/signer"
)

var (
	ErrMissingFragments = errors.New("missing systematic fragments")
	ErrIdentityMismatch = errors.New("identity does not match trust anchor")
	ErrCRCMismatch      = errors.New("CRC64 mismatch")
	ErrBadSignature     = errors.New("signature verification failed")
)

// Session holds the parameters of a FRAG_SESSION_SETUP_REQ.
type Session struct {
	Index    byte
	NbFrag   int
	FragSize int
	Encoding byte
	Padding  int
}

// DataLength is the number of bytes the session reassembles to.
func (s *Session) DataLength() int {
	return s.NbFrag*s.FragSize - s.Padding
}

// ParseSession decodes a corrected fragmentation header.
func ParseSession(h []byte) (*Session, error) {
	if len(h) != api.HeaderLength {
		return nil, fmt.Errorf("%w: header is %d bytes, want %d", api.ErrMalformedHeader, len(h), api.HeaderLength)
	}
	if h[api.HeaderCommandIndex] != api.FragSessionSetupReq {
		return nil, fmt.Errorf("%w: command %#x", api.ErrMalformedHeader, h[api.HeaderCommandIndex])
	}
	if idx := h[api.HeaderSessionIndex] >> 4; idx > api.MaxSession {
		return nil, fmt.Errorf("%w: session index %d out of range 0-%d", api.ErrMalformedHeader, idx, api.MaxSession)
	}
	s := &Session{
		Index:    h[api.HeaderSessionIndex] >> 4,
		NbFrag:   int(h[api.HeaderNbFragHiIndex])<<8 | int(h[api.HeaderNbFragLoIndex]),
		FragSize: int(h[api.HeaderFragSizeIndex]),
		Encoding: h[api.HeaderEncodingIndex],
		Padding:  int(h[api.HeaderPaddingIndex]),
	}
	if s.FragSize == 0 {
		return nil, fmt.Errorf("%w: zero fragment size", api.ErrMalformedHeader)
	}
	if s.Padding >= s.FragSize {
		return nil, fmt.Errorf("%w: padding %d >= fragment size %d", api.ErrMalformedHeader, s.Padding, s.FragSize)
	}
	if s.DataLength() < 0 {
		return nil, fmt.Errorf("%w: padding exceeds data", api.ErrMalformedHeader)
	}
	klog.V(2).Infof("Session %d: %d fragments of %d, padding %d", s.Index, s.NbFrag, s.FragSize, s.Padding)
	return s, nil
}

// ParseBinary splits a binary artifact into its session and rows.
func ParseBinary(b []byte) (*Session, [][]byte, error) {
	if len(b) < api.HeaderLength {
		return nil, nil, fmt.Errorf("%w: artifact is %d bytes", api.ErrMalformedHeader, len(b))
	}
	s, err := ParseSession(b[:api.HeaderLength])
	if err != nil {
		return nil, nil, err
	}
	body := b[api.HeaderLength:]
	w := api.RowWidth(s.FragSize)
	if len(body)%w != 0 {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes", api.ErrMalformedFragment, len(body)%w)
	}
	rows := make([][]byte, 0, len(body)/w)
	for off := 0; off < len(body); off += w {
		rows = append(rows, body[off:off+w])
	}
	return s, rows, nil
}

// Assemble rebuilds the session data from its rows.
//
// Rows with counters 1 to NbFrag carry the data itself, later counters are
// redundancy and are skipped. Every data row must be present.
func Assemble(s *Session, rows [][]byte) ([]byte, error) {
	w := api.RowWidth(s.FragSize)
	data := make([]byte, s.NbFrag*s.FragSize)
	seen := make([]bool, s.NbFrag)
	redundant := 0
	for i, r := range rows {
		if len(r) != w {
			return nil, fmt.Errorf("%w: row %d is %d bytes, want %d", api.ErrMalformedFragment, i, len(r), w)
		}
		if r[api.RowTagIndex] != api.DataFragment {
			return nil, fmt.Errorf("%w: row %d tag %#x", api.ErrMalformedFragment, i, r[api.RowTagIndex])
		}
		c := int(r[api.RowCounterHiIndex])<<8 | int(r[api.RowCounterLoIndex])
		switch {
		case c == 0:
			return nil, fmt.Errorf("%w: row %d has counter 0", api.ErrMalformedFragment, i)
		case c > s.NbFrag:
			redundant++
			continue
		}
		copy(data[(c-1)*s.FragSize:], r[api.RowOverhead:])
		seen[c-1] = true
	}
	missing := 0
	for _, ok := range seen {
		if !ok {
			missing++
		}
	}
	if missing > 0 {
		return nil, fmt.Errorf("%w: %d of %d", ErrMissingFragments, missing, s.NbFrag)
	}
	klog.V(2).Infof("Assembled %d bytes, skipped %d redundancy rows", s.DataLength(), redundant)
	return data[:s.DataLength()], nil
}

// UpdateHeader is the package header as the device reads it.
type UpdateHeader struct {
	// Signature has its padding removed.
	Signature        []byte
	ManufacturerUUID [api.UUIDLength]byte
	DeviceClassUUID  [api.UUIDLength]byte
	Descriptor       bundle.DiffDescriptor
	Payload          []byte
}

// ParseUpdateHeader splits reassembled package data.
//
// In the plain layout the signature length is not recorded, ECDSA
// signatures are measured from their DER header and RSA signatures fill
// the field.
func ParseUpdateHeader(data []byte, l bundle.Layout, s bundle.Scheme) (*UpdateHeader, error) {
	if len(data) < bundle.HeaderLength(l, s) {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the package header", api.ErrMalformedHeader, len(data))
	}
	off := 0
	sigLen := s.FieldWidth
	if l == bundle.LayoutDiffCapable {
		sigLen = int(data[0])
		off = 1
	} else if s.Name == bundle.SchemeECDSAP256.Name {
		n, err := signer.DERLength(data[:s.FieldWidth])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", api.ErrSignatureLengthUnsupported, err)
		}
		sigLen = n
	}
	if !s.Supports(sigLen) {
		return nil, fmt.Errorf("%w: %d bytes for scheme %s", api.ErrSignatureLengthUnsupported, sigLen, s.Name)
	}
	h := &UpdateHeader{Signature: append([]byte(nil), data[off:off+sigLen]...)}
	off += s.FieldWidth
	off += copy(h.ManufacturerUUID[:], data[off:])
	off += copy(h.DeviceClassUUID[:], data[off:])
	switch data[off] {
	case 0:
	case 1:
		h.Descriptor.IsDiff = true
	default:
		return nil, fmt.Errorf("%w: diff flag %#x", api.ErrMalformedHeader, data[off])
	}
	h.Descriptor.BaseSize = bundle.DecodeBaseSize([3]byte{data[off+1], data[off+2], data[off+3]})
	off += api.DiffInfoLength
	h.Payload = data[off:]
	return h, nil
}

// Expectation is what the device knows ahead of an update.
type Expectation struct {
	Anchor *anchor.Record
	// CRC is the CRC64 announced by the network.
	CRC    uint64
	Hasher integrity.Hasher
	// Image is the full firmware a diff patches to, the signature of a diff
	// package is only checked when it is set.
	Image []byte
}

// Check runs the device's acceptance checks over reassembled data.
func Check(data []byte, l bundle.Layout, s bundle.Scheme, e Expectation) (*UpdateHeader, error) {
	if e.Anchor == nil {
		return nil, errors.New("no trust anchor")
	}
	if got := e.Hasher.Sum(data); got != e.CRC {
		return nil, fmt.Errorf("%w: got %016x, want %016x", ErrCRCMismatch, got, e.CRC)
	}
	h, err := ParseUpdateHeader(data, l, s)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(h.ManufacturerUUID[:], e.Anchor.ManufacturerUUID[:]) {
		return nil, fmt.Errorf("%w: manufacturer", ErrIdentityMismatch)
	}
	if !bytes.Equal(h.DeviceClassUUID[:], e.Anchor.DeviceClassUUID[:]) {
		return nil, fmt.Errorf("%w: device class", ErrIdentityMismatch)
	}

	image := h.Payload
	if h.Descriptor.IsDiff {
		if e.Image == nil {
			klog.Infof("Diff package against %d byte base, signature not checked", h.Descriptor.BaseSize)
			return h, nil
		}
		image = e.Image
	}
	pub, err := e.Anchor.PublicKey()
	if err != nil {
		return nil, err
	}
	v, err := signer.NewVerifier(pub)
	if err != nil {
		return nil, err
	}
	if err := v.Verify(h.Signature, image); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return h, nil
}
