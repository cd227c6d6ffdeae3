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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/transparency-dev/fota-packager/api"
	"github.com/transparency-dev/fota-packager/internal/bundle"
	"github.com/transparency-dev/fota-packager/internal/frag"
)

func TestDefaults(t *testing.T) {
	c, err := Parse([]byte("{}"), "/etc/fota")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got, want := c.PackageLayout(), bundle.LayoutDiffCapable; got != want {
		t.Errorf("layout = %v, want %v", got, want)
	}
	if got, want := c.Fragmentation.FragmentSize, 204; got != want {
		t.Errorf("fragment_size = %d, want %d", got, want)
	}
	if got, want := c.Fragmentation.Redundancy, 20; got != want {
		t.Errorf("redundancy = %d, want %d", got, want)
	}
	if diff := cmp.Diff(c.Diff.Command, []string{"jdiff", "{old}", "{new}"}); diff != "" {
		t.Errorf("diff command: %s", diff)
	}
	if _, ok := c.Fragmenter().(frag.Uncoded); !ok {
		t.Errorf("Fragmenter() = %T, want frag.Uncoded", c.Fragmenter())
	}
	s, err := c.IdentityStore()
	if err != nil {
		t.Fatalf("IdentityStore: %v", err)
	}
	if _, err := s.Identity(); !errors.Is(err, api.ErrIdentityMissing) {
		t.Errorf("Identity() = %v, want ErrIdentityMissing", err)
	}
	if diff := cmp.Diff(Default().Fragmentation, c.Fragmentation); diff != "" {
		t.Errorf("Default() differs from empty config: %s", diff)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	ids := "manufacturer-uuid: 6ba7b810-9dad-11d1-80b4-00c04fd430c8\ndevice-class-uuid: 6ba7b811-9dad-11d1-80b4-00c04fd430c8\n"
	if err := os.WriteFile(filepath.Join(dir, "device-ids"), []byte(ids), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := `
identity:
  file: device-ids
signing:
  private_key: certs/update.key
  public_key: /abs/update.pub
  scheme: rsa-2048
  password_env: FOTA_TEST_PASSWORD
layout: plain
fragmentation:
  fragment_size: 100
  redundancy: 5
  session: 2
  encoder: ["python", "encode_file.py", "{file}", "{size}", "{redundancy}"]
integrity:
  polynomial: iso
release:
  component: sensor-fw
  note_key: keys/release.sec
`
	p := filepath.Join(dir, "fota.yaml")
	if err := os.WriteFile(p, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FOTA_TEST_PASSWORD", "hunter2")

	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := c.Signing.PrivateKey, filepath.Join(dir, "certs/update.key"); got != want {
		t.Errorf("private_key = %q, want %q", got, want)
	}
	if got, want := c.Signing.PublicKey, "/abs/update.pub"; got != want {
		t.Errorf("public_key = %q, want %q", got, want)
	}
	if got, want := c.Release.NoteKey, filepath.Join(dir, "keys/release.sec"); got != want {
		t.Errorf("note_key = %q, want %q", got, want)
	}
	if got, want := c.PackageLayout(), bundle.LayoutPlain; got != want {
		t.Errorf("layout = %v, want %v", got, want)
	}
	if got, want := c.KeyPassword(), "hunter2"; got != want {
		t.Errorf("KeyPassword() = %q, want %q", got, want)
	}
	e, ok := c.Fragmenter().(frag.Encoder)
	if !ok {
		t.Fatalf("Fragmenter() = %T, want frag.Encoder", c.Fragmenter())
	}
	if got, want := e.Redundancy, 5; got != want {
		t.Errorf("encoder redundancy = %d, want %d", got, want)
	}
	if got, want := c.Hasher().Sum([]byte("123456789")), uint64(0xb90956c775a41001); got != want {
		t.Errorf("ISO CRC = %x, want %x", got, want)
	}
	s, err := c.IdentityStore()
	if err != nil {
		t.Fatalf("IdentityStore: %v", err)
	}
	id, err := s.Identity()
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if got, want := id.DeviceClass.String(), "6ba7b811-9dad-11d1-80b4-00c04fd430c8"; got != want {
		t.Errorf("device class = %s, want %s", got, want)
	}
}

func TestInlineIdentity(t *testing.T) {
	c, err := Parse([]byte(`
identity:
  manufacturer_uuid: 6ba7b810-9dad-11d1-80b4-00c04fd430c8
  device_class_uuid: 00000000-0000-0000-0000-000000000000
`), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s, err := c.IdentityStore()
	if err != nil {
		t.Fatalf("IdentityStore: %v", err)
	}
	if _, err := s.Identity(); err != nil {
		t.Errorf("Identity() = %v", err)
	}
}

func TestValidate(t *testing.T) {
	for _, test := range []struct {
		name string
		doc  string
	}{
		{name: "layout", doc: "layout: zigzag"},
		{name: "scheme", doc: "signing: {scheme: dsa}"},
		{name: "rsa diff layout", doc: "signing: {scheme: rsa-2048}"},
		{name: "fragment size", doc: "fragmentation: {fragment_size: 300}"},
		{name: "session", doc: "fragmentation: {session: 4}"},
		{name: "redundancy", doc: "fragmentation: {redundancy: -1}"},
		{name: "polynomial", doc: "integrity: {polynomial: crc32}"},
		{name: "identity both", doc: "identity: {file: ids, manufacturer_uuid: x}"},
		{name: "not yaml", doc: "layout: [unterminated"},
		{name: "unknown type", doc: "fragmentation: {fragment_size: big}"},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := Parse([]byte(test.doc), ""); err == nil {
				t.Fatal("Parse succeeded")
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load succeeded")
	}
}
