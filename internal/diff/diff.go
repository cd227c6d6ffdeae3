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

// Package diff produces binary diffs between firmware images.
package diff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/api"
)

// Engine computes a diff which, applied to old on the device, yields new.
type Engine interface {
	Diff(ctx context.Context, old, new []byte) ([]byte, error)
}

// DefaultCommand is the argv template used when none is configured.
var DefaultCommand = []string{"jdiff", "{old}", "{new}"}

// Exec runs an external diff tool.
//
// Command is an argv template, "{old}" and "{new}" are replaced with the
// paths of the staged images. The tool writes the diff to stdout.
type Exec struct {
	Command []string
	// Dir is where the staging directory is created, os.TempDir() if empty.
	Dir string
}

// Diff implements Engine. Failures are returned as api.CollaboratorError.
func (e Exec) Diff(ctx context.Context, old, new []byte) ([]byte, error) {
	d, err := e.diff(ctx, old, new)
	if err != nil {
		return nil, api.Collaborator("diff", err)
	}
	return d, nil
}

func (e Exec) diff(ctx context.Context, old, new []byte) ([]byte, error) {
	argvT := e.Command
	if len(argvT) == 0 {
		argvT = DefaultCommand
	}
	dir, err := os.MkdirTemp(e.Dir, "fota-diff-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			klog.Warningf("Failed to remove staging dir %q: %v", dir, err)
		}
	}()

	oldPath, newPath := filepath.Join(dir, "old.bin"), filepath.Join(dir, "new.bin")
	if err := os.WriteFile(oldPath, old, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage old image: %v", err)
	}
	if err := os.WriteFile(newPath, new, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage new image: %v", err)
	}

	r := strings.NewReplacer("{old}", oldPath, "{new}", newPath)
	argv := make([]string, len(argvT))
	for i, a := range argvT {
		argv[i] = r.Replace(a)
	}

	klog.Infof("Running diff tool %q", argv)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %v: %s", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, errors.New("diff tool produced no output")
	}
	klog.V(2).Infof("Diff of %d -> %d bytes is %d bytes", len(old), len(new), stdout.Len())
	return stdout.Bytes(), nil
}
