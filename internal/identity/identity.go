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

// Package identity holds the manufacturer and device class identifiers bound
// into every signed package.
package identity

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/api"
)

// Identity is the signing identity of a device family.
type Identity struct {
	Manufacturer uuid.UUID
	DeviceClass  uuid.UUID
}

// Bytes returns the 32 byte on-wire form: manufacturer then device class.
func (id Identity) Bytes() []byte {
	b := make([]byte, 0, 2*api.UUIDLength)
	b = append(b, id.Manufacturer[:]...)
	return append(b, id.DeviceClass[:]...)
}

// Parse builds an identity from two textual UUIDs.
func Parse(manufacturer, deviceClass string) (Identity, error) {
	m, err := uuid.Parse(manufacturer)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid manufacturer UUID %q: %v", manufacturer, err)
	}
	c, err := uuid.Parse(deviceClass)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid device class UUID %q: %v", deviceClass, err)
	}
	return Identity{Manufacturer: m, DeviceClass: c}, nil
}

// Store exposes a provisioned identity. The zero value is an unprovisioned
// store.
type Store struct {
	id          Identity
	provisioned bool
}

// NewStore returns a store holding id.
func NewStore(id Identity) *Store {
	return &Store{id: id, provisioned: true}
}

// Identity returns the stored identity, or api.ErrIdentityMissing if no
// identity has been provisioned.
func (s *Store) Identity() (Identity, error) {
	if s == nil || !s.provisioned {
		return Identity{}, api.ErrIdentityMissing
	}
	return s.id, nil
}

// deviceIDs mirrors the certs/device-ids document written at key
// generation time. JSON documents parse too.
type deviceIDs struct {
	Manufacturer string `yaml:"manufacturer-uuid"`
	DeviceClass  string `yaml:"device-class-uuid"`
}

// LoadFile reads a device-ids document from path.
//
// A missing file means the identity was never provisioned and is reported
// as api.ErrIdentityMissing.
func LoadFile(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist", api.ErrIdentityMissing, path)
	} else if err != nil {
		return nil, err
	}
	var d deviceIDs
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("failed to parse device ids %q: %v", path, err)
	}
	if d.Manufacturer == "" || d.DeviceClass == "" {
		return nil, fmt.Errorf("%w: %s lacks manufacturer-uuid or device-class-uuid", api.ErrIdentityMissing, path)
	}
	id, err := Parse(d.Manufacturer, d.DeviceClass)
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("Loaded identity mfr=%s class=%s from %q", id.Manufacturer, id.DeviceClass, path)
	return NewStore(id), nil
}
