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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
)

// artifact is one output file and the function producing its contents.
type artifact struct {
	path  string
	write func(io.Writer) error
	// mode defaults to 0644.
	mode os.FileMode
}

// writeArtifacts stages every artifact next to its destination and only
// moves them into place once all of them were written successfully. Path
// "-" writes to stdout, after every file is in place.
//
// If any step fails, files already moved into place are removed and any
// files they replaced are restored.
func writeArtifacts(as ...artifact) error {
	var (
		files  []*stagedFile
		stdout bytes.Buffer
	)
	abort := func(err error) error {
		for i := len(files) - 1; i >= 0; i-- {
			files[i].rollback()
		}
		return err
	}
	for _, a := range as {
		if a.path == "-" {
			if err := a.write(&stdout); err != nil {
				return abort(fmt.Errorf("failed to render stdout output: %v", err))
			}
			continue
		}
		sf, err := stage(a)
		if sf != nil {
			files = append(files, sf)
		}
		if err != nil {
			return abort(err)
		}
	}
	for _, sf := range files {
		if err := sf.commit(); err != nil {
			return abort(err)
		}
	}
	if stdout.Len() > 0 {
		if _, err := os.Stdout.Write(stdout.Bytes()); err != nil {
			return abort(fmt.Errorf("failed to write to stdout: %v", err))
		}
	}
	for _, sf := range files {
		sf.dropBackup()
		klog.Infof("Wrote %q", sf.path)
	}
	return nil
}

// stagedFile is an artifact written to a temporary file beside its
// destination.
type stagedFile struct {
	tmp, path string
	mode      os.FileMode
	// backup holds the file previously at path while the write is pending.
	backup string
	placed bool
}

func stage(a artifact) (*stagedFile, error) {
	f, err := os.CreateTemp(filepath.Dir(a.path), "."+filepath.Base(a.path)+".*")
	if err != nil {
		return nil, err
	}
	sf := &stagedFile{tmp: f.Name(), path: a.path, mode: a.mode}
	if sf.mode == 0 {
		sf.mode = 0o644
	}
	if err := a.write(f); err != nil {
		f.Close()
		return sf, fmt.Errorf("failed to write %q: %v", a.path, err)
	}
	if err := f.Close(); err != nil {
		return sf, err
	}
	return sf, os.Chmod(sf.tmp, sf.mode)
}

func (sf *stagedFile) commit() error {
	fi, err := os.Lstat(sf.path)
	switch {
	case err == nil && fi.IsDir():
		return fmt.Errorf("%q is a directory", sf.path)
	case err == nil:
		sf.backup = sf.tmp + ".orig"
		if err := os.Rename(sf.path, sf.backup); err != nil {
			sf.backup = ""
			return err
		}
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	if err := os.Rename(sf.tmp, sf.path); err != nil {
		return err
	}
	sf.placed = true
	return nil
}

func (sf *stagedFile) rollback() {
	victim := sf.tmp
	if sf.placed {
		victim = sf.path
	}
	if err := os.Remove(victim); err != nil && !errors.Is(err, os.ErrNotExist) {
		klog.Warningf("Failed to remove %q: %v", victim, err)
	}
	if sf.backup != "" {
		if err := os.Rename(sf.backup, sf.path); err != nil {
			klog.Warningf("Failed to restore %q from %q: %v", sf.path, sf.backup, err)
		}
	}
}

func (sf *stagedFile) dropBackup() {
	if sf.backup == "" {
		return
	}
	if err := os.Remove(sf.backup); err != nil {
		klog.Warningf("Failed to remove %q: %v", sf.backup, err)
	}
}

func bytesArtifact(path string, b []byte) artifact {
	return artifact{path: path, write: func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	}}
}
