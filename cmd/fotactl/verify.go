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
	"errors"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/internal/receiver"
	"github.com/transparency-dev/fota-packager/internal/release"
)

func newVerifyCommand() *cobra.Command {
	var (
		crc   string
		image string
	)
	cmd := &cobra.Command{
		Use:   "verify <packets.bin>",
		Short: "Reassemble a binary artifact and run the device's acceptance checks.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if crc == "" {
				return errors.New("--crc is required")
			}
			want, err := release.ParseCRC(crc)
			if err != nil {
				return err
			}
			c := configOrDie()
			a := anchorOrDie(c)
			pub, err := a.PublicKey()
			if err != nil {
				return err
			}

			s, rows, err := receiver.ParseBinary(readOrDie(args[0], "artifact"))
			if err != nil {
				return err
			}
			klog.Infof("FRAG_SESSION_SETUP_REQ: session=%d nbFrag=%d fragSize=%d encoding=%d padding=%d",
				s.Index, s.NbFrag, s.FragSize, s.Encoding, s.Padding)
			data, err := receiver.Assemble(s, rows)
			if err != nil {
				return err
			}
			exp := receiver.Expectation{Anchor: a, CRC: want, Hasher: c.Hasher()}
			if image != "" {
				exp.Image = readOrDie(image, "image")
			}
			h, err := receiver.Check(data, c.PackageLayout(), schemeOrDie(pub), exp)
			if err != nil {
				return err
			}
			klog.Infof("Package OK: signature %d bytes, diff=%t base=%d, payload %d bytes",
				len(h.Signature), h.Descriptor.IsDiff, h.Descriptor.BaseSize, len(h.Payload))
			return nil
		},
	}
	cmd.Flags().StringVar(&crc, "crc", "", "Expected CRC64 in hex, as printed by the packets command.")
	cmd.Flags().StringVar(&image, "image", "", "Full new image, used to check the signature of a diff package.")
	return cmd
}
