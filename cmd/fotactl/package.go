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
	"crypto/sha256"
	"io"
	"path/filepath"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/internal/emit"
	"github.com/transparency-dev/fota-packager/internal/frag"
	"github.com/transparency-dev/fota-packager/internal/pipeline"
)

func newSignCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "sign <image>",
		Short: "Sign a full firmware image into an update package.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := configOrDie()
			r, err := pipelineOrDie(c).Run(cmd.Context(), pipeline.Request{New: readOrDie(args[0], "image")})
			if err != nil {
				return err
			}
			return writeArtifacts(bytesArtifact(out, r.Package.Bytes()))
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "-", "File to write the package to.")
	return cmd
}

func newDiffCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Diff two firmware images and sign the result into an update package.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := configOrDie()
			oldImg, newImg := readOrDie(args[0], "old image"), readOrDie(args[1], "new image")
			r, err := pipelineOrDie(c).Run(cmd.Context(), pipeline.Request{New: newImg, Old: oldImg})
			if err != nil {
				return err
			}
			klog.Infof("old hash:  %x", sha256.Sum256(oldImg))
			klog.Infof("new hash:  %x", sha256.Sum256(newImg))
			return writeArtifacts(bytesArtifact(out, r.Package.Bytes()))
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "-", "File to write the package to.")
	return cmd
}

func newPacketsCommand() *cobra.Command {
	var (
		oldImage string
		outDir   string
		progress bool
	)
	cmd := &cobra.Command{
		Use:   "packets <image>",
		Short: "Build packets.h, update_certs.h and packets.bin for an image.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := configOrDie()
			req := pipeline.Request{New: readOrDie(args[0], "image")}
			if oldImage != "" {
				req.Old = readOrDie(oldImage, "old image")
			}
			r, err := pipelineOrDie(c).Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			klog.Infof("CRC64 hash is %016x", r.CRC)
			return writeArtifacts(
				artifact{path: filepath.Join(outDir, "packets.h"), write: func(w io.Writer) error {
					return emit.PacketsHeader(w, r.Fragments, r.CRC)
				}},
				artifact{path: filepath.Join(outDir, "update_certs.h"), write: func(w io.Writer) error {
					return emit.CertsHeader(w, r.Anchor)
				}},
				artifact{path: filepath.Join(outDir, "packets.bin"), write: func(w io.Writer) error {
					return writeBinary(w, r.Fragments, progress)
				}},
			)
		},
	}
	cmd.Flags().StringVar(&oldImage, "old", "", "Installed firmware image, builds a diff package when set.")
	cmd.Flags().StringVar(&outDir, "out_dir", ".", "Directory to write the artifacts to.")
	cmd.Flags().BoolVar(&progress, "progress", true, "Show a progress bar while writing rows.")
	return cmd
}

func writeBinary(w io.Writer, set *frag.Set, progress bool) error {
	if !progress {
		return emit.Binary(w, set)
	}
	total := len(set.Header) + len(set.Fragments)*set.RowWidth()
	bar := pb.Full.Start64(int64(total))
	bar.Set(pb.Bytes, true)
	defer bar.Finish()
	return emit.Binary(bar.NewProxyWriter(w), set)
}

func newCertsCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Write update_certs.h for the configured key and identity.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := anchorOrDie(configOrDie())
			if r.Length() > 0 {
				klog.Infof("EC public key is %d bytes", r.Length())
			}
			return writeArtifacts(artifact{path: out, write: func(w io.Writer) error {
				return emit.CertsHeader(w, r)
			}})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "update_certs.h", "File to write the header to.")
	return cmd
}
