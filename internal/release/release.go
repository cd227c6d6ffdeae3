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

// Package release describes a packaging run as a signed manifest, suitable
// for logging in a firmware transparency log.
package release

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/coreos/go-semver/semver"
	"github.com/google/uuid"
	"github.com/transparency-dev/merkle/rfc6962"
	"golang.org/x/mod/sumdb/note"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/internal/bundle"
	"github.com/transparency-dev/fota-packager/internal/frag"
	"github.com/transparency-dev/fota-packager/internal/identity"
)

// Manifest describes one firmware update package and its fragmentation.
type Manifest struct {
	Component string         `json:"component"`
	Version   semver.Version `json:"version"`

	Layout string `json:"layout"`
	Scheme string `json:"scheme"`

	PackageSize   int    `json:"package_size"`
	PackageSHA256 []byte `json:"package_sha256"`
	// CRC64 is the hex CRC64 the receiver checks after reassembly.
	CRC64 string `json:"crc64"`

	FragmentSize  int `json:"fragment_size"`
	FragmentCount int `json:"fragment_count"`
	Padding       int `json:"padding"`

	ManufacturerUUID uuid.UUID `json:"manufacturer_uuid"`
	DeviceClassUUID  uuid.UUID `json:"device_class_uuid"`

	IsDiff   bool   `json:"is_diff"`
	BaseSize uint32 `json:"base_size,omitempty"`
}

// Describe builds the manifest for a package fragmented into set.
func Describe(component string, version semver.Version, id identity.Identity, p *bundle.Package, set *frag.Set, crc uint64) (*Manifest, error) {
	if component == "" {
		return nil, errors.New("component must be set")
	}
	if p == nil || set == nil {
		return nil, errors.New("package and fragment set are required")
	}
	b := p.Bytes()
	sum := sha256.Sum256(b)
	return &Manifest{
		Component:        component,
		Version:          version,
		Layout:           p.Layout.String(),
		Scheme:           p.Scheme.Name,
		PackageSize:      len(b),
		PackageSHA256:    sum[:],
		CRC64:            FormatCRC(crc),
		FragmentSize:     set.PayloadWidth,
		FragmentCount:    len(set.Fragments),
		Padding:          int(set.Padding),
		ManufacturerUUID: id.Manufacturer,
		DeviceClassUUID:  id.DeviceClass,
		IsDiff:           p.Descriptor.IsDiff,
		BaseSize:         p.Descriptor.BaseSize,
	}, nil
}

// FormatCRC renders crc the way it appears in packets.h.
func FormatCRC(crc uint64) string {
	return fmt.Sprintf("%016x", crc)
}

// ParseCRC parses a hex CRC64, with or without a 0x prefix.
func ParseCRC(s string) (uint64, error) {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return strconv.ParseUint(s, 16, 64)
}

// CRC returns the manifest's CRC64 as a number.
func (m *Manifest) CRC() (uint64, error) {
	return ParseCRC(m.CRC64)
}

// Sign serialises m and signs it as a note.
func Sign(m *Manifest, signers ...note.Signer) ([]byte, error) {
	if len(signers) == 0 {
		return nil, errors.New("no signers")
	}
	j, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %v", err)
	}
	n, err := note.Sign(&note.Note{Text: string(j) + "\n"}, signers...)
	if err != nil {
		return nil, fmt.Errorf("failed to sign manifest: %v", err)
	}
	klog.V(2).Infof("Signed manifest for %s %s", m.Component, m.Version.String())
	return n, nil
}

// Open verifies a signed manifest against the known verifiers.
func Open(signed []byte, verifiers ...note.Verifier) (*Manifest, error) {
	n, err := note.Open(signed, note.VerifierList(verifiers...))
	if err != nil {
		return nil, fmt.Errorf("failed to verify manifest: %v", err)
	}
	m := &Manifest{}
	if err := json.Unmarshal([]byte(n.Text), m); err != nil {
		return nil, fmt.Errorf("invalid manifest contents: %v", err)
	}
	return m, nil
}

// LeafHash returns the RFC 6962 leaf hash of a signed manifest, the value
// a log client looks the release up by.
func LeafHash(signed []byte) []byte {
	return rfc6962.DefaultHasher.HashLeaf(signed)
}

// GenerateKey returns a new note signer and verifier key pair for name.
func GenerateKey(name string) (skey, vkey string, err error) {
	return note.GenerateKey(rand.Reader, name)
}
