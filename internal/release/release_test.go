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

package release

import (
	"bytes"
	"context"
	"crypto/sha256"
	"testing"

	"github.com/coreos/go-semver/semver"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"golang.org/x/mod/sumdb/note"

	"github.com/transparency-dev/fota-packager/internal/bundle"
	"github.com/transparency-dev/fota-packager/internal/frag"
	"github.com/transparency-dev/fota-packager/internal/identity"
)

func testManifest(t *testing.T) *Manifest {
	t.Helper()
	id := identity.Identity{Manufacturer: uuid.New(), DeviceClass: uuid.New()}
	sig := bytes.Repeat([]byte{0x30}, 71)
	p, err := bundle.Builder{Layout: bundle.LayoutDiffCapable, Scheme: bundle.SchemeECDSAP256}.
		Build(sig, id, bundle.DiffDescriptor{IsDiff: true, BaseSize: 1000}, []byte("payload"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	set, err := frag.Fragment(context.Background(), frag.Uncoded{}, p.Bytes(), 16)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	m, err := Describe("fw", *semver.New("1.2.3"), id, p, set, 0x1234)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	return m
}

func TestDescribe(t *testing.T) {
	m := testManifest(t)
	if got, want := m.PackageSize, 1+72+32+4+7; got != want {
		t.Errorf("PackageSize = %d, want %d", got, want)
	}
	if got, want := m.FragmentCount, 8; got != want {
		t.Errorf("FragmentCount = %d, want %d", got, want)
	}
	if got, want := m.Padding, 12; got != want {
		t.Errorf("Padding = %d, want %d", got, want)
	}
	if got, want := m.CRC64, "0000000000001234"; got != want {
		t.Errorf("CRC64 = %q, want %q", got, want)
	}
	if got, want := len(m.PackageSHA256), sha256.Size; got != want {
		t.Errorf("len(PackageSHA256) = %d, want %d", got, want)
	}
	if !m.IsDiff || m.BaseSize != 1000 {
		t.Errorf("diff fields = %t/%d, want true/1000", m.IsDiff, m.BaseSize)
	}
	if _, err := Describe("", semver.Version{}, identity.Identity{}, nil, nil, 0); err == nil {
		t.Error("Describe with no component succeeded")
	}
}

func TestSignOpen(t *testing.T) {
	skey, vkey, err := GenerateKey("fota-release")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	s, err := note.NewSigner(skey)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	v, err := note.NewVerifier(vkey)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	m := testManifest(t)
	signed, err := Sign(m, s)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	got, err := Open(signed, v)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if diff := cmp.Diff(got, m); diff != "" {
		t.Errorf("manifest round trip diff: %s", diff)
	}
	crc, err := got.CRC()
	if err != nil || crc != 0x1234 {
		t.Errorf("CRC() = %x, %v", crc, err)
	}

	tampered := bytes.Replace(signed, []byte(`"fw"`), []byte(`"xx"`), 1)
	if _, err := Open(tampered, v); err == nil {
		t.Error("Open(tampered) succeeded")
	}

	_, otherV, err := GenerateKey("someone-else")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	ov, err := note.NewVerifier(otherV)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if _, err := Open(signed, ov); err == nil {
		t.Error("Open with unknown verifier succeeded")
	}

	if _, err := Sign(m); err == nil {
		t.Error("Sign with no signers succeeded")
	}
}

func TestLeafHash(t *testing.T) {
	a, b := LeafHash([]byte("a")), LeafHash([]byte("b"))
	if len(a) != sha256.Size {
		t.Fatalf("len(LeafHash) = %d", len(a))
	}
	if bytes.Equal(a, b) {
		t.Error("distinct notes share a leaf hash")
	}
	// RFC 6962 prefixes leaves with a zero byte.
	want := sha256.Sum256([]byte("\x00a"))
	if !bytes.Equal(a, want[:]) {
		t.Errorf("LeafHash = %x, want %x", a, want)
	}
}

func TestParseCRC(t *testing.T) {
	for _, test := range []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "995dc9bbdf1939fa", want: 0x995DC9BBDF1939FA},
		{in: "0x10", want: 0x10},
		{in: "zz", wantErr: true},
	} {
		got, err := ParseCRC(test.in)
		if gotErr := err != nil; gotErr != test.wantErr {
			t.Errorf("ParseCRC(%q) = %v, wantErr %t", test.in, err, test.wantErr)
		}
		if got != test.want {
			t.Errorf("ParseCRC(%q) = %x, want %x", test.in, got, test.want)
		}
	}
}
