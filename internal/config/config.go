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

// Package config loads the packager configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/api"
	"github.com/transparency-dev/fota-packager/internal/bundle"
	"github.com/transparency-dev/fota-packager/internal/diff"
	"github.com/transparency-dev/fota-packager/internal/frag"
	"github.com/transparency-dev/fota-packager/internal/identity"
	"github.com/transparency-dev/fota-packager/internal/integrity"
)

const (
	DefaultRedundancy = 20
	DefaultComponent  = "fota-firmware"
)

// Config is the packager configuration.
type Config struct {
	Identity      Identity      `yaml:"identity"`
	Signing       Signing       `yaml:"signing"`
	Layout        string        `yaml:"layout"`
	Fragmentation Fragmentation `yaml:"fragmentation"`
	Diff          Diff          `yaml:"diff"`
	Integrity     Integrity     `yaml:"integrity"`
	Release       Release       `yaml:"release"`

	dir string
}

// Identity locates the device identifiers, either a device-ids file or
// inline UUIDs.
type Identity struct {
	File             string `yaml:"file"`
	ManufacturerUUID string `yaml:"manufacturer_uuid"`
	DeviceClassUUID  string `yaml:"device_class_uuid"`
}

type Signing struct {
	PrivateKey string `yaml:"private_key"`
	PublicKey  string `yaml:"public_key"`
	// PasswordEnv names the environment variable holding the private key
	// password, if it is encrypted.
	PasswordEnv string `yaml:"password_env"`
	// Scheme is derived from the key when empty.
	Scheme string `yaml:"scheme"`
}

type Fragmentation struct {
	FragmentSize int  `yaml:"fragment_size"`
	Redundancy   int  `yaml:"redundancy"`
	Session      byte `yaml:"session"`
	// Encoder is the encoder argv, the built in uncoded fragmenter is used
	// when it is empty.
	Encoder []string `yaml:"encoder"`
}

type Diff struct {
	Command []string `yaml:"command"`
}

type Integrity struct {
	Polynomial string `yaml:"polynomial"`
}

type Release struct {
	Component string `yaml:"component"`
	// NoteKey is a file holding a note signer key.
	NoteKey string `yaml:"note_key"`
	// NoteVerifier is a file holding the matching note verifier key.
	NoteVerifier string `yaml:"note_verifier"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads and validates the configuration at path. Relative paths in the
// file are resolved against its directory.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %v", err)
	}
	c, err := Parse(b, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	klog.V(2).Infof("Loaded config %q: %+v", path, c)
	return c, nil
}

// Parse decodes a configuration document whose relative paths are relative
// to dir.
func Parse(b []byte, dir string) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}
	c.dir = dir
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Layout == "" {
		c.Layout = bundle.LayoutDiffCapable.String()
	}
	if c.Fragmentation.FragmentSize == 0 {
		c.Fragmentation.FragmentSize = api.DefaultFragmentSize
	}
	if c.Fragmentation.Redundancy == 0 {
		c.Fragmentation.Redundancy = DefaultRedundancy
	}
	if len(c.Diff.Command) == 0 {
		c.Diff.Command = append([]string(nil), diff.DefaultCommand...)
	}
	if c.Release.Component == "" {
		c.Release.Component = DefaultComponent
	}
	for _, p := range []*string{&c.Identity.File, &c.Signing.PrivateKey, &c.Signing.PublicKey, &c.Release.NoteKey, &c.Release.NoteVerifier} {
		*p = c.resolve(*p)
	}
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error
	if _, err := bundle.ParseLayout(c.Layout); err != nil {
		errs = append(errs, err)
	}
	if c.Signing.Scheme != "" {
		s, err := bundle.ParseScheme(c.Signing.Scheme)
		if err != nil {
			errs = append(errs, err)
		} else if s.FieldWidth > 0xFF && c.Layout == bundle.LayoutDiffCapable.String() {
			errs = append(errs, fmt.Errorf("scheme %s needs the plain layout", s.Name))
		}
	}
	if s := c.Fragmentation.FragmentSize; s <= 0 || s > 0xFF {
		errs = append(errs, fmt.Errorf("fragment_size %d out of range 1-255", s))
	}
	if c.Fragmentation.Redundancy < 0 {
		errs = append(errs, fmt.Errorf("negative redundancy %d", c.Fragmentation.Redundancy))
	}
	if c.Fragmentation.Session > api.MaxSession {
		errs = append(errs, fmt.Errorf("session %d out of range 0-%d", c.Fragmentation.Session, api.MaxSession))
	}
	if _, err := integrity.ParsePolynomial(c.Integrity.Polynomial); err != nil {
		errs = append(errs, err)
	}
	inline := c.Identity.ManufacturerUUID != "" || c.Identity.DeviceClassUUID != ""
	if inline && c.Identity.File != "" {
		errs = append(errs, errors.New("identity: set either file or inline UUIDs, not both"))
	}
	return errors.Join(errs...)
}

// PackageLayout returns the configured layout.
func (c *Config) PackageLayout() bundle.Layout {
	l, err := bundle.ParseLayout(c.Layout)
	if err != nil {
		klog.Warningf("Invalid layout %q, using %s", c.Layout, bundle.LayoutDiffCapable)
		return bundle.LayoutDiffCapable
	}
	return l
}

// IdentityStore returns the configured identity. With no identity
// configured the store is unprovisioned.
func (c *Config) IdentityStore() (*identity.Store, error) {
	switch {
	case c.Identity.File != "":
		return identity.LoadFile(c.Identity.File)
	case c.Identity.ManufacturerUUID != "" || c.Identity.DeviceClassUUID != "":
		id, err := identity.Parse(c.Identity.ManufacturerUUID, c.Identity.DeviceClassUUID)
		if err != nil {
			return nil, err
		}
		return identity.NewStore(id), nil
	}
	return &identity.Store{}, nil
}

// Fragmenter returns the configured fragmenter.
func (c *Config) Fragmenter() frag.Fragmenter {
	if len(c.Fragmentation.Encoder) == 0 {
		return frag.Uncoded{Session: c.Fragmentation.Session}
	}
	return frag.Encoder{Command: c.Fragmentation.Encoder, Redundancy: c.Fragmentation.Redundancy}
}

// DiffEngine returns the configured diff engine.
func (c *Config) DiffEngine() diff.Engine {
	return diff.Exec{Command: c.Diff.Command}
}

// Hasher returns the configured CRC64 hasher.
func (c *Config) Hasher() integrity.Hasher {
	p, err := integrity.ParsePolynomial(c.Integrity.Polynomial)
	if err != nil {
		klog.Warningf("Invalid polynomial %q, using %s", c.Integrity.Polynomial, integrity.ECMA)
	}
	h, _ := integrity.New(p)
	return h
}

// KeyPassword returns the private key password from the environment.
func (c *Config) KeyPassword() string {
	if c.Signing.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.Signing.PasswordEnv)
}
