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

// Package bundle assembles the signed update package read by the device
// after all fragments have been received.
package bundle

import (
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/api"
	"github.com/transparency-dev/fota-packager/internal/identity"
)

// ErrDiffNeedsDiffLayout is returned when a diff payload is packaged with a
// layout whose diff descriptor block is always zero.
var ErrDiffNeedsDiffLayout = errors.New("diff payload requires the diff-capable layout")

const (
	LayoutPlain Layout = iota
	LayoutDiffCapable
)

// Layout selects which package byte layout the receiver firmware parses.
type Layout int

func (l Layout) String() string {
	switch l {
	case LayoutPlain:
		return "plain"
	case LayoutDiffCapable:
		return "diff-capable"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// ParseLayout is the inverse of Layout.String.
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "plain":
		return LayoutPlain, nil
	case "diff-capable", "diff":
		return LayoutDiffCapable, nil
	}
	return 0, fmt.Errorf("unknown package layout %q", s)
}

// Scheme describes the encoded widths of a signature scheme.
type Scheme struct {
	// Name identifies the scheme in configuration and manifests.
	Name string
	// Lengths lists the raw signature lengths the scheme may produce.
	Lengths []int
	// FieldWidth is the width of the signature field in the package, shorter
	// signatures are zero padded up to it.
	FieldWidth int
}

var (
	// SchemeECDSAP256 covers ASN.1 DER encoded ECDSA P-256 signatures, whose
	// length depends on the sign bits of r and s.
	SchemeECDSAP256 = Scheme{Name: "ecdsa-p256", Lengths: []int{70, 71, 72}, FieldWidth: 72}
	// SchemeRSA2048 covers PKCS#1 v1.5 signatures made with a 2048 bit key.
	SchemeRSA2048 = Scheme{Name: "rsa-2048", Lengths: []int{256}, FieldWidth: 256}
)

// ParseScheme returns the scheme with the given name.
func ParseScheme(s string) (Scheme, error) {
	for _, sc := range []Scheme{SchemeECDSAP256, SchemeRSA2048} {
		if sc.Name == s {
			return sc, nil
		}
	}
	return Scheme{}, fmt.Errorf("unknown signature scheme %q", s)
}

// Supports reports whether a raw signature of length n is valid for the scheme.
func (s Scheme) Supports(n int) bool {
	for _, l := range s.Lengths {
		if l == n {
			return true
		}
	}
	return false
}

// DiffDescriptor records whether the payload is a diff and, if so, the size
// of the base image it patches.
type DiffDescriptor struct {
	IsDiff   bool
	BaseSize uint32
}

// DescriptorFor returns the descriptor of a diff computed against old.
func DescriptorFor(old []byte) (DiffDescriptor, error) {
	if len(old) > api.MaxBaseSize {
		return DiffDescriptor{}, fmt.Errorf("%w: base image is %d bytes", api.ErrPayloadTooLarge, len(old))
	}
	return DiffDescriptor{IsDiff: true, BaseSize: uint32(len(old))}, nil
}

// EncodeBaseSize encodes n as 3 big-endian bytes.
func EncodeBaseSize(n uint32) ([3]byte, error) {
	if n > api.MaxBaseSize {
		return [3]byte{}, fmt.Errorf("%w: %d > %d", api.ErrPayloadTooLarge, n, api.MaxBaseSize)
	}
	return [3]byte{byte(n >> 16), byte(n >> 8), byte(n)}, nil
}

// DecodeBaseSize is the inverse of EncodeBaseSize.
func DecodeBaseSize(b [3]byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// Package is an assembled signed package.
type Package struct {
	Layout Layout
	Scheme Scheme
	// SignatureLength is the length of the signature before padding.
	SignatureLength int
	Descriptor      DiffDescriptor

	raw []byte
}

// Bytes returns a copy of the package bytes.
func (p *Package) Bytes() []byte {
	return append([]byte(nil), p.raw...)
}

// Len returns the package length in bytes.
func (p *Package) Len() int {
	return len(p.raw)
}

// HeaderLength returns the number of bytes preceding the payload for the
// given layout and scheme.
func HeaderLength(l Layout, s Scheme) int {
	n := s.FieldWidth + 2*api.UUIDLength + api.DiffInfoLength
	if l == LayoutDiffCapable {
		n++
	}
	return n
}

// Builder assembles packages for one layout and signature scheme.
type Builder struct {
	Layout Layout
	Scheme Scheme
}

// Build assembles the package bytes.
//
// sig must be the raw signer output over the new firmware image, payload is
// either that image or a diff against the base image described by d.
func (b Builder) Build(sig []byte, id identity.Identity, d DiffDescriptor, payload []byte) (*Package, error) {
	if !b.Scheme.Supports(len(sig)) {
		return nil, fmt.Errorf("%w: %d bytes for scheme %s", api.ErrSignatureLengthUnsupported, len(sig), b.Scheme.Name)
	}
	if b.Layout == LayoutDiffCapable && len(sig) > 0xFF {
		return nil, fmt.Errorf("%w: %d bytes do not fit the one byte length prefix", api.ErrSignatureLengthUnsupported, len(sig))
	}
	if d.IsDiff && b.Layout != LayoutDiffCapable {
		return nil, ErrDiffNeedsDiffLayout
	}
	if !d.IsDiff {
		d.BaseSize = 0
	}
	size, err := EncodeBaseSize(d.BaseSize)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, 0, HeaderLength(b.Layout, b.Scheme)+len(payload))
	if b.Layout == LayoutDiffCapable {
		raw = append(raw, byte(len(sig)))
	}
	raw = append(raw, sig...)
	raw = append(raw, make([]byte, b.Scheme.FieldWidth-len(sig))...)
	raw = append(raw, id.Bytes()...)
	var flag byte
	if d.IsDiff {
		flag = 1
	}
	raw = append(raw, flag)
	raw = append(raw, size[:]...)
	raw = append(raw, payload...)

	klog.V(2).Infof("Built %s package: sig=%d/%d diff=%t base=%d payload=%d total=%d",
		b.Layout, len(sig), b.Scheme.FieldWidth, d.IsDiff, d.BaseSize, len(payload), len(raw))

	return &Package{
		Layout:          b.Layout,
		Scheme:          b.Scheme,
		SignatureLength: len(sig),
		Descriptor:      d,
		raw:             raw,
	}, nil
}
