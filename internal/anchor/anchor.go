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

// Package anchor produces the trust anchor record the device firmware is
// built with: the update verification key and the identity it accepts.
package anchor

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/sigstore/sigstore/pkg/cryptoutils"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/api"
	"github.com/transparency-dev/fota-packager/internal/identity"
)

// KeyMaterial is the public key as the receiver stores it, one of RSAKey or
// ECKey.
type KeyMaterial interface {
	isKeyMaterial()
}

// RSAKey holds an RSA public key as hex strings.
type RSAKey struct {
	Modulus  string
	Exponent string
}

// ECKey holds an elliptic curve public key as a DER SubjectPublicKeyInfo.
type ECKey struct {
	Blob []byte
}

func (RSAKey) isKeyMaterial() {}
func (ECKey) isKeyMaterial()  {}

// Record is the trust anchor compiled into the device.
type Record struct {
	ManufacturerUUID [api.UUIDLength]byte
	DeviceClassUUID  [api.UUIDLength]byte
	// Key is a normalized copy of the input material.
	Key KeyMaterial
}

// Length returns the byte length of an ECKey blob, zero for RSA keys.
func (r *Record) Length() int {
	if ec, ok := r.Key.(ECKey); ok {
		return len(ec.Blob)
	}
	return 0
}

// Emit validates material and binds it to id.
//
// RSA hex strings of odd length are given a single leading zero so that
// they decode to whole bytes, e.g. "10001" becomes "010001".
func Emit(id identity.Identity, material KeyMaterial) (*Record, error) {
	r := &Record{}
	mb, err := id.Manufacturer.MarshalBinary()
	if err != nil || len(mb) != api.UUIDLength {
		return nil, fmt.Errorf("%w: manufacturer UUID", api.ErrKeyMaterialUnparseable)
	}
	cb, err := id.DeviceClass.MarshalBinary()
	if err != nil || len(cb) != api.UUIDLength {
		return nil, fmt.Errorf("%w: device class UUID", api.ErrKeyMaterialUnparseable)
	}
	copy(r.ManufacturerUUID[:], mb)
	copy(r.DeviceClassUUID[:], cb)

	switch m := material.(type) {
	case RSAKey:
		n, err := evenHex(m.Modulus)
		if err != nil {
			return nil, fmt.Errorf("%w: modulus: %v", api.ErrKeyMaterialUnparseable, err)
		}
		e, err := evenHex(m.Exponent)
		if err != nil {
			return nil, fmt.Errorf("%w: exponent: %v", api.ErrKeyMaterialUnparseable, err)
		}
		r.Key = RSAKey{Modulus: n, Exponent: e}
	case ECKey:
		if len(m.Blob) == 0 {
			return nil, fmt.Errorf("%w: empty EC key blob", api.ErrKeyMaterialUnparseable)
		}
		r.Key = ECKey{Blob: append([]byte(nil), m.Blob...)}
	default:
		return nil, fmt.Errorf("%w: unknown key material %T", api.ErrKeyMaterialUnparseable, material)
	}
	klog.V(2).Infof("Trust anchor for %s/%s: %T", id.Manufacturer, id.DeviceClass, r.Key)
	return r, nil
}

// PublicKey decodes the record's key material.
func (r *Record) PublicKey() (crypto.PublicKey, error) {
	switch k := r.Key.(type) {
	case RSAKey:
		n, ok := new(big.Int).SetString(k.Modulus, 16)
		if !ok {
			return nil, fmt.Errorf("%w: modulus", api.ErrKeyMaterialUnparseable)
		}
		e, ok := new(big.Int).SetString(k.Exponent, 16)
		if !ok || !e.IsInt64() || e.Int64() > 1<<31-1 {
			return nil, fmt.Errorf("%w: exponent", api.ErrKeyMaterialUnparseable)
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	case ECKey:
		pub, err := x509.ParsePKIXPublicKey(k.Blob)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", api.ErrKeyMaterialUnparseable, err)
		}
		return pub, nil
	}
	return nil, fmt.Errorf("%w: unknown key material %T", api.ErrKeyMaterialUnparseable, r.Key)
}

func evenHex(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty hex string")
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", err
	}
	return s, nil
}

// MaterialFromPublicKey converts a parsed public key into KeyMaterial.
func MaterialFromPublicKey(pub crypto.PublicKey) (KeyMaterial, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return RSAKey{
			Modulus:  hex.EncodeToString(k.N.Bytes()),
			Exponent: big.NewInt(int64(k.E)).Text(16),
		}, nil
	case *ecdsa.PublicKey:
		der, err := cryptoutils.MarshalPublicKeyToDER(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", api.ErrKeyMaterialUnparseable, err)
		}
		return ECKey{Blob: der}, nil
	}
	return nil, fmt.Errorf("%w: unsupported public key type %T", api.ErrKeyMaterialUnparseable, pub)
}

// MaterialFromPEM parses a PEM public key into KeyMaterial.
func MaterialFromPEM(pemBytes []byte) (KeyMaterial, error) {
	pub, err := cryptoutils.UnmarshalPEMToPublicKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrKeyMaterialUnparseable, err)
	}
	return MaterialFromPublicKey(pub)
}
