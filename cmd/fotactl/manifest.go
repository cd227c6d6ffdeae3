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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coreos/go-semver/semver"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/internal/pipeline"
	"github.com/transparency-dev/fota-packager/internal/release"
)

func newManifestCommand() *cobra.Command {
	var (
		version  string
		oldImage string
		out      string
		verify   string
	)
	cmd := &cobra.Command{
		Use:   "manifest [<image>]",
		Short: "Write a signed release manifest for an image, or verify one.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := configOrDie()
			if verify != "" {
				signed := readOrDie(verify, "manifest")
				m, err := release.Open(signed, noteVerifierOrDie(c))
				if err != nil {
					return err
				}
				j, err := json.MarshalIndent(m, "", " ")
				if err != nil {
					return fmt.Errorf("failed to render manifest: %v", err)
				}
				klog.Infof("Manifest:\n%s", j)
				klog.Infof("Leaf hash %x", release.LeafHash(signed))
				return nil
			}
			if len(args) != 1 {
				return errors.New("an image is required unless --verify is set")
			}
			v, err := semver.NewVersion(version)
			if err != nil {
				return fmt.Errorf("invalid --version %q: %v", version, err)
			}

			req := pipeline.Request{New: readOrDie(args[0], "image")}
			if oldImage != "" {
				req.Old = readOrDie(oldImage, "old image")
			}
			ns := noteSignerOrDie(c)
			r, err := pipelineOrDie(c).Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			m, err := release.Describe(c.Release.Component, *v, r.Identity, r.Package, r.Fragments, r.CRC)
			if err != nil {
				return err
			}
			signed, err := release.Sign(m, ns)
			if err != nil {
				return err
			}
			klog.Infof("Leaf hash %x", release.LeafHash(signed))
			return writeArtifacts(bytesArtifact(out, signed))
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "Semantic version of the release.")
	cmd.Flags().StringVar(&oldImage, "old", "", "Installed firmware image, describes a diff package when set.")
	cmd.Flags().StringVarP(&out, "output", "o", "-", "File to write the signed manifest to.")
	cmd.Flags().StringVar(&verify, "verify", "", "Signed manifest to verify instead of creating one.")
	return cmd
}
