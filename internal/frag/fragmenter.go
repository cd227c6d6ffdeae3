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
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/api"
)

// Raw is the encoder's output before Normalize.
type Raw struct {
	Header []byte
	Rows   [][]byte
}

// Fragmenter splits data into fragment rows of width payload bytes, using
// the encoder's own framing convention.
type Fragmenter interface {
	Fragment(ctx context.Context, data []byte, width int) (*Raw, error)
}

// Fragment runs f over data and normalizes the result.
//
// Fragmenter failures are reported as api.CollaboratorError.
func Fragment(ctx context.Context, f Fragmenter, data []byte, width int) (*Set, error) {
	raw, err := f.Fragment(ctx, data, width)
	if err != nil {
		return nil, api.Collaborator("fragmenter", err)
	}
	return Normalize(raw.Header, raw.Rows, len(data), width)
}

// Uncoded splits data into systematic fragments only, framed the way the
// encoder frames them. It emits no redundancy rows, so every fragment must
// reach the receiver.
type Uncoded struct {
	// Session is the fragmentation session index, 0-3.
	Session byte
}

// Fragment implements Fragmenter.
func (u Uncoded) Fragment(_ context.Context, data []byte, width int) (*Raw, error) {
	if width <= 0 || width > 0xFF {
		return nil, fmt.Errorf("invalid fragment width %d", width)
	}
	if u.Session > api.MaxSession {
		return nil, fmt.Errorf("invalid session index %d", u.Session)
	}
	n := (len(data) + width - 1) / width
	if n > 0xFFFF {
		return nil, fmt.Errorf("%d fragments exceed the 16-bit fragment counter", n)
	}

	raw := &Raw{
		Header: []byte{api.FragSessionSetupReq, u.Session, byte(n >> 8), byte(n), byte(width), 0},
		Rows:   make([][]byte, 0, n),
	}
	for i := 0; i < n; i++ {
		c := i + 1
		row := make([]byte, api.RowWidth(width))
		row[api.RowTagIndex] = api.DataFragment
		row[rawCounterHiIndex] = byte(c >> 8)
		row[rawCounterLoIndex] = byte(c)
		end := (i + 1) * width
		if end > len(data) {
			end = len(data)
		}
		copy(row[api.RowOverhead:], data[i*width:end])
		raw.Rows = append(raw.Rows, row)
	}
	klog.V(2).Infof("Uncoded: %d bytes in %d fragments of %d", len(data), n, width)
	return raw, nil
}
