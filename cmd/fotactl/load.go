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

package main

import (
	"crypto"
	"os"
	"strings"

	"golang.org/x/mod/sumdb/note"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/internal/anchor"
	"github.com/transparency-dev/fota-packager/internal/bundle"
	"github.com/transparency-dev/fota-packager/internal/config"
	"github.com/transparency-dev/fota-packager/internal/identity"
	"github.com/transparency-dev/fota-packager/internal/pipeline"
	"github.com/transparency-dev/fota-packager/internal/signer"
)

func configOrDie() *config.Config {
	if configFile == "" {
		return config.Default()
	}
	c, err := config.Load(configFile)
	if err != nil {
		klog.Exitf("Failed to load config: %v", err)
	}
	return c
}

func readOrDie(p, thing string) []byte {
	b, err := os.ReadFile(p)
	if err != nil {
		klog.Exitf("Failed to read %s %q: %v", thing, p, err)
	}
	return b
}

func signerOrDie(c *config.Config) *signer.KeySigner {
	if c.Signing.PrivateKey == "" {
		klog.Exit("No signing.private_key configured")
	}
	s, err := signer.LoadFile(c.Signing.PrivateKey, c.KeyPassword())
	if err != nil {
		klog.Exitf("Failed to load signing key %q: %v", c.Signing.PrivateKey, err)
	}
	if c.Signing.Scheme != "" && c.Signing.Scheme != s.Scheme().Name {
		klog.Exitf("Signing key is %s but signing.scheme is %s", s.Scheme().Name, c.Signing.Scheme)
	}
	return s
}

// publicKeyOrDie returns the configured public key, falling back to the
// public half of the private key.
func publicKeyOrDie(c *config.Config) crypto.PublicKey {
	if c.Signing.PublicKey != "" {
		pub, err := signer.PublicKeyFromPEM(readOrDie(c.Signing.PublicKey, "public key"))
		if err != nil {
			klog.Exitf("Invalid public key %q: %v", c.Signing.PublicKey, err)
		}
		return pub
	}
	return signerOrDie(c).Public()
}

func schemeOrDie(pub crypto.PublicKey) bundle.Scheme {
	s, err := signer.SchemeFor(pub)
	if err != nil {
		klog.Exitf("Unsupported public key: %v", err)
	}
	return s
}

func identityOrDie(c *config.Config) identity.Identity {
	s, err := c.IdentityStore()
	if err != nil {
		klog.Exitf("Failed to load identity: %v", err)
	}
	id, err := s.Identity()
	if err != nil {
		klog.Exitf("Identity: %v", err)
	}
	return id
}

func anchorOrDie(c *config.Config) *anchor.Record {
	m, err := anchor.MaterialFromPublicKey(publicKeyOrDie(c))
	if err != nil {
		klog.Exitf("Failed to read key material: %v", err)
	}
	r, err := anchor.Emit(identityOrDie(c), m)
	if err != nil {
		klog.Exitf("Failed to build trust anchor: %v", err)
	}
	return r
}

func pipelineOrDie(c *config.Config) *pipeline.Pipeline {
	ids, err := c.IdentityStore()
	if err != nil {
		klog.Exitf("Failed to load identity: %v", err)
	}
	s := signerOrDie(c)
	m, err := anchor.MaterialFromPublicKey(s.Public())
	if err != nil {
		klog.Exitf("Failed to read key material: %v", err)
	}
	return &pipeline.Pipeline{
		Identity:     ids,
		Signer:       s,
		Diff:         c.DiffEngine(),
		Fragmenter:   c.Fragmenter(),
		Layout:       c.PackageLayout(),
		FragmentSize: c.Fragmentation.FragmentSize,
		Hasher:       c.Hasher(),
		Key:          m,
		Metrics:      runMetrics,
	}
}

func noteSignerOrDie(c *config.Config) note.Signer {
	if c.Release.NoteKey == "" {
		klog.Exit("No release.note_key configured")
	}
	s, err := note.NewSigner(strings.TrimSpace(string(readOrDie(c.Release.NoteKey, "note key"))))
	if err != nil {
		klog.Exitf("Invalid note signer key: %v", err)
	}
	return s
}

func noteVerifierOrDie(c *config.Config) note.Verifier {
	if c.Release.NoteVerifier == "" {
		klog.Exit("No release.note_verifier configured")
	}
	vs := readOrDie(c.Release.NoteVerifier, "note verifier")
	v, err := note.NewVerifier(strings.TrimSpace(string(vs)))
	if err != nil {
		klog.Exitf("Invalid note verifier string %q: %v", vs, err)
	}
	return v
}
