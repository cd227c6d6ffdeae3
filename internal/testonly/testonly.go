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

// Package testonly provides in-memory collaborators for packaging tests.
package testonly

import (
	"bytes"
	"context"
	"testing"

	"github.com/transparency-dev/fota-packager/internal/bundle"
	"github.com/transparency-dev/fota-packager/internal/frag"
)

// Signer returns a fixed signature for every image.
type Signer struct {
	Sig []byte
	// SignScheme is reported by Scheme, SchemeECDSAP256 if unset.
	SignScheme *bundle.Scheme
	Err        error

	// OnSign is called with each image presented for signing.
	OnSign func(image []byte)
}

// NewSigner returns a Signer producing an n byte signature.
func NewSigner(t *testing.T, n int) *Signer {
	t.Helper()
	return &Signer{Sig: bytes.Repeat([]byte{0x5A}, n)}
}

func (s *Signer) Sign(image []byte) ([]byte, error) {
	if s.OnSign != nil {
		s.OnSign(image)
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]byte(nil), s.Sig...), nil
}

func (s *Signer) Scheme() bundle.Scheme {
	if s.SignScheme != nil {
		return *s.SignScheme
	}
	return bundle.SchemeECDSAP256
}

// DiffEngine returns Patch, or the new image when Patch is nil.
type DiffEngine struct {
	Patch []byte
	Err   error
	Calls int
}

func (d *DiffEngine) Diff(_ context.Context, _, new []byte) ([]byte, error) {
	d.Calls++
	if d.Err != nil {
		return nil, d.Err
	}
	if d.Patch == nil {
		return append([]byte(nil), new...), nil
	}
	return append([]byte(nil), d.Patch...), nil
}

// Fragmenter frames data with frag.Uncoded, optionally appending fake
// redundancy rows.
type Fragmenter struct {
	Redundancy int
	Err        error
}

func (f *Fragmenter) Fragment(ctx context.Context, data []byte, width int) (*frag.Raw, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	raw, err := frag.Uncoded{}.Fragment(ctx, data, width)
	if err != nil {
		return nil, err
	}
	n := len(raw.Rows)
	for i := 0; i < f.Redundancy; i++ {
		c := n + i + 1
		row := make([]byte, 3+width)
		row[0], row[1], row[2] = 0x08, byte(c>>8), byte(c)
		for j := range row[3:] {
			row[3+j] = byte(c + j)
		}
		raw.Rows = append(raw.Rows, row)
	}
	return raw, nil
}
