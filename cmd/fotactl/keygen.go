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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sigstore/sigstore/pkg/cryptoutils"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/transparency-dev/fota-packager/internal/bundle"
	"github.com/transparency-dev/fota-packager/internal/release"
)

func newKeygenCommand() *cobra.Command {
	var (
		dir      string
		scheme   string
		noteName string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key pair, device identifiers and release note keys.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(dir); err == nil {
				return fmt.Errorf("%q already exists, refusing to overwrite existing keys", dir)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			s, err := bundle.ParseScheme(scheme)
			if err != nil {
				return err
			}
			priv, err := generateKey(s)
			if err != nil {
				return err
			}
			privPEM, err := cryptoutils.MarshalPrivateKeyToPEM(priv)
			if err != nil {
				return err
			}
			pubPEM, err := cryptoutils.MarshalPublicKeyToPEM(priv.Public())
			if err != nil {
				return err
			}
			ids, err := yaml.Marshal(map[string]string{
				"manufacturer-uuid": uuid.New().String(),
				"device-class-uuid": uuid.New().String(),
			})
			if err != nil {
				return err
			}
			skey, vkey, err := release.GenerateKey(noteName)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			key := bytesArtifact(filepath.Join(dir, "update.key"), privPEM)
			key.mode = 0o600
			sec := bytesArtifact(filepath.Join(dir, "release.sec"), []byte(skey+"\n"))
			sec.mode = 0o600
			return writeArtifacts(
				key,
				bytesArtifact(filepath.Join(dir, "update.pub"), pubPEM),
				bytesArtifact(filepath.Join(dir, "device-ids"), ids),
				sec,
				bytesArtifact(filepath.Join(dir, "release.pub"), []byte(vkey+"\n")),
			)
		},
	}
	cmd.Flags().StringVar(&dir, "out_dir", "certs", "Directory to create for the generated material.")
	cmd.Flags().StringVar(&scheme, "scheme", bundle.SchemeECDSAP256.Name, "Signature scheme of the update key.")
	cmd.Flags().StringVar(&noteName, "note_name", "fota-release", "Name of the release note signing key.")
	return cmd
}

func generateKey(s bundle.Scheme) (crypto.Signer, error) {
	switch s.Name {
	case bundle.SchemeECDSAP256.Name:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case bundle.SchemeRSA2048.Name:
		return rsa.GenerateKey(rand.Reader, 2048)
	}
	return nil, fmt.Errorf("cannot generate keys for scheme %s", s.Name)
}
