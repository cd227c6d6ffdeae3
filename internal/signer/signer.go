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

// Package signer provides Signer implementations backed by PEM key files.
package signer

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/sigstore/sigstore/pkg/cryptoutils"
	"github.com/sigstore/sigstore/pkg/signature"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/internal/bundle"
)

// Signer signs firmware images.
type Signer interface {
	// Sign returns the raw signature over the SHA-256 digest of image.
	Sign(image []byte) ([]byte, error)
	// Scheme describes the signature widths produced by Sign.
	Scheme() bundle.Scheme
}

// SchemeFor returns the package signature scheme for a public key.
func SchemeFor(pub crypto.PublicKey) (bundle.Scheme, error) {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return bundle.Scheme{}, fmt.Errorf("unsupported ECDSA curve %s", k.Curve.Params().Name)
		}
		return bundle.SchemeECDSAP256, nil
	case *rsa.PublicKey:
		if k.N.BitLen() != 2048 {
			return bundle.Scheme{}, fmt.Errorf("unsupported RSA key size %d", k.N.BitLen())
		}
		return bundle.SchemeRSA2048, nil
	}
	return bundle.Scheme{}, fmt.Errorf("unsupported key type %T", pub)
}

// KeySigner signs with a private key held in memory.
type KeySigner struct {
	s      signature.Signer
	pub    crypto.PublicKey
	scheme bundle.Scheme
}

// New returns a KeySigner for an ECDSA P-256 or RSA-2048 private key.
func New(priv crypto.Signer) (*KeySigner, error) {
	scheme, err := SchemeFor(priv.Public())
	if err != nil {
		return nil, err
	}
	s, err := signature.LoadSigner(priv, crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to load signer: %v", err)
	}
	return &KeySigner{s: s, pub: priv.Public(), scheme: scheme}, nil
}

// FromPEM parses a PEM private key, password may be empty for unencrypted
// keys.
func FromPEM(pemBytes []byte, password string) (*KeySigner, error) {
	var pf cryptoutils.PassFunc
	if password != "" {
		pf = func(bool) ([]byte, error) { return []byte(password), nil }
	}
	priv, err := cryptoutils.UnmarshalPEMToPrivateKey(pemBytes, pf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}
	cs, ok := priv.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("private key %T cannot sign", priv)
	}
	return New(cs)
}

// LoadFile reads a PEM private key from path.
func LoadFile(path, password string) (*KeySigner, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %v", err)
	}
	return FromPEM(b, password)
}

// Sign implements Signer.
func (k *KeySigner) Sign(image []byte) ([]byte, error) {
	sig, err := k.s.SignMessage(bytes.NewReader(image))
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("Signed %d byte image, %s signature is %d bytes", len(image), k.scheme.Name, len(sig))
	return sig, nil
}

// Scheme implements Signer.
func (k *KeySigner) Scheme() bundle.Scheme {
	return k.scheme
}

// Public returns the public half of the signing key.
func (k *KeySigner) Public() crypto.PublicKey {
	return k.pub
}

// Verifier checks signatures made by a KeySigner.
type Verifier struct {
	v      signature.Verifier
	scheme bundle.Scheme
}

// NewVerifier returns a Verifier for pub.
func NewVerifier(pub crypto.PublicKey) (*Verifier, error) {
	scheme, err := SchemeFor(pub)
	if err != nil {
		return nil, err
	}
	v, err := signature.LoadVerifier(pub, crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to load verifier: %v", err)
	}
	return &Verifier{v: v, scheme: scheme}, nil
}

// PublicKeyFromPEM parses a PEM public key.
func PublicKeyFromPEM(pemBytes []byte) (crypto.PublicKey, error) {
	pub, err := cryptoutils.UnmarshalPEMToPublicKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %v", err)
	}
	return pub, nil
}

// Scheme returns the scheme of the verifying key.
func (v *Verifier) Scheme() bundle.Scheme {
	return v.scheme
}

// Verify checks sig over image. sig may carry trailing padding, in which
// case an ECDSA signature is trimmed to its DER length first.
func (v *Verifier) Verify(sig, image []byte) error {
	if v.scheme.Name == bundle.SchemeECDSAP256.Name {
		n, err := DERLength(sig)
		if err != nil {
			return err
		}
		sig = sig[:n]
	}
	return v.v.VerifySignature(bytes.NewReader(sig), bytes.NewReader(image))
}

// DERLength returns the length of the ASN.1 DER ECDSA signature at the
// start of b, which may be followed by padding.
func DERLength(b []byte) (int, error) {
	in := cryptobyte.String(b)
	var elem cryptobyte.String
	if !in.ReadASN1Element(&elem, asn1.SEQUENCE) {
		return 0, errors.New("signature is not a DER SEQUENCE")
	}
	if err := CheckDER(elem); err != nil {
		return 0, err
	}
	return len(elem), nil
}

// CheckDER validates that sig is exactly one DER SEQUENCE of two positive
// INTEGERs, the ECDSA signature encoding.
func CheckDER(sig []byte) error {
	in := cryptobyte.String(sig)
	var inner cryptobyte.String
	r, s := new(big.Int), new(big.Int)
	if !in.ReadASN1(&inner, asn1.SEQUENCE) || !in.Empty() ||
		!inner.ReadASN1Integer(r) || !inner.ReadASN1Integer(s) || !inner.Empty() {
		return errors.New("malformed DER ECDSA signature")
	}
	if r.Sign() <= 0 || s.Sign() <= 0 {
		return errors.New("ECDSA signature components must be positive")
	}
	return nil
}
