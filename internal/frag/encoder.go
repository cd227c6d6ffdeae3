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

package frag

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/api"
)

const (
	headerLinePrefix = "Fragmentation header likely:"
	rowLinePrefix    = "[8, "
)

var hexByte = regexp.MustCompile(`\b0x([0-9a-fA-F]{1,2})\b`)

// Encoder runs an external fragmentation encoder.
//
// Command is an argv template: "{file}" is replaced with the path of a
// staging file holding the data, "{size}" with the fragment width and
// "{redundancy}" with Redundancy. The encoder must print the header on a
// line starting with "Fragmentation header likely:" and one row per line
// in the form "[8, b1, b2, ...]".
type Encoder struct {
	Command    []string
	Redundancy int
	// Dir is where the staging file is created, os.TempDir() if empty.
	Dir string
}

// Fragment implements Fragmenter.
func (e Encoder) Fragment(ctx context.Context, data []byte, width int) (*Raw, error) {
	if len(e.Command) == 0 {
		return nil, errors.New("no encoder command configured")
	}
	f, err := os.CreateTemp(e.Dir, "fota-staging-*.bin")
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := os.Remove(f.Name()); rerr != nil {
			klog.Warningf("Failed to remove staging file %q: %v", f.Name(), rerr)
		}
	}()
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stage data: %v", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	r := strings.NewReplacer("{file}", f.Name(), "{size}", strconv.Itoa(width), "{redundancy}", strconv.Itoa(e.Redundancy))
	argv := make([]string, len(e.Command))
	for i, a := range e.Command {
		argv[i] = r.Replace(a)
	}

	klog.Infof("Running encoder %q", argv)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %v: %s", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return ParseEncoderOutput(stdout.Bytes())
}

// ParseEncoderOutput extracts the raw header and rows from the encoder log.
// Lines that are neither header nor row are ignored.
func ParseEncoderOutput(out []byte) (*Raw, error) {
	raw := &Raw{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for ln := 1; sc.Scan(); ln++ {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, headerLinePrefix):
			if raw.Header != nil {
				return nil, fmt.Errorf("line %d: duplicate fragmentation header", ln)
			}
			raw.Header = []byte{}
			for _, m := range hexByte.FindAllStringSubmatch(line[len(headerLinePrefix):], -1) {
				v, err := strconv.ParseUint(m[1], 16, 8)
				if err != nil {
					return nil, fmt.Errorf("line %d: %v", ln, err)
				}
				raw.Header = append(raw.Header, byte(v))
			}
		case strings.HasPrefix(line, rowLinePrefix):
			row, err := parseRow(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %v", ln, err)
			}
			raw.Rows = append(raw.Rows, row)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if raw.Header == nil {
		return nil, fmt.Errorf("%w: encoder output has no fragmentation header", api.ErrMalformedHeader)
	}
	klog.V(2).Infof("Encoder produced header % x and %d rows", raw.Header, len(raw.Rows))
	return raw, nil
}

func parseRow(line string) ([]byte, error) {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "[")
	line = strings.TrimSuffix(line, "]")
	fields := strings.Split(line, ",")
	row := make([]byte, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(strings.TrimSpace(f), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid row byte %q: %v", f, err)
		}
		row = append(row, byte(v))
	}
	return row, nil
}
