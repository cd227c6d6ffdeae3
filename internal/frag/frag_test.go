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
	"bytes"
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/transparency-dev/fota-packager/api"
)

func row(tag, b1, b2 byte, width int, fill byte) []byte {
	r := append([]byte{tag, b1, b2}, bytes.Repeat([]byte{fill}, width)...)
	return r
}

func TestPadding(t *testing.T) {
	for _, test := range []struct {
		total, width, want int
	}{
		{total: 0, width: 204, want: 0},
		{total: 204, width: 204, want: 0},
		{total: 205, width: 204, want: 203},
		{total: 408, width: 204, want: 0},
		{total: 1, width: 204, want: 203},
		{total: 203, width: 204, want: 1},
		{total: 5303, width: 204, want: 1},
	} {
		if got := Padding(test.total, test.width); got != test.want {
			t.Errorf("Padding(%d, %d) = %d, want %d", test.total, test.width, got, test.want)
		}
	}
}

func TestNormalizeHeader(t *testing.T) {
	raw := []byte{0x02, 0x03, 0x0A, 0x0B, 0xCC, 0x00}
	s, err := Normalize(raw, nil, 205, 204)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := []byte{0x02, 0x30, 0x0B, 0x0A, 0xCC, 0x00, 203}
	if diff := cmp.Diff(s.Header, want); diff != "" {
		t.Fatalf("header diff: %s", diff)
	}
	if got, want := s.Padding, byte(203); got != want {
		t.Errorf("Padding = %d, want %d", got, want)
	}
	if diff := cmp.Diff(raw, []byte{0x02, 0x03, 0x0A, 0x0B, 0xCC, 0x00}); diff != "" {
		t.Errorf("raw header was modified: %s", diff)
	}
}

func TestNormalizeSessionNibble(t *testing.T) {
	s, err := Normalize([]byte{0x02, 0x05, 0x0A, 0x0B, 0xCC, 0x00}, nil, 204, 204)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := []byte{0x02, 0x50, 0x0B, 0x0A, 0xCC, 0x00, 0}
	if diff := cmp.Diff(s.Header, want); diff != "" {
		t.Fatalf("header diff: %s", diff)
	}
}

func TestNormalizeRows(t *testing.T) {
	const width = 4
	rawRows := [][]byte{
		row(api.DataFragment, 0x00, 0x01, width, 0x11),
		row(api.DataFragment, 0x00, 0x02, width, 0x22),
		row(api.DataFragment, 0x01, 0x00, width, 0x33),
	}
	orig := make([][]byte, len(rawRows))
	for i := range rawRows {
		orig[i] = append([]byte(nil), rawRows[i]...)
	}

	s, err := Normalize([]byte{2, 0, 0, 3, width, 0}, rawRows, 3*width, width)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := [][]byte{
		row(api.DataFragment, 0x01, 0x00, width, 0x11),
		row(api.DataFragment, 0x02, 0x00, width, 0x22),
		row(api.DataFragment, 0x00, 0x01, width, 0x33),
	}
	if diff := cmp.Diff(s.Fragments, want); diff != "" {
		t.Fatalf("rows diff: %s", diff)
	}
	if diff := cmp.Diff(rawRows, orig); diff != "" {
		t.Errorf("raw rows were modified: %s", diff)
	}
	for i, r := range s.Fragments {
		if r[api.RowTagIndex] != orig[i][api.RowTagIndex] {
			t.Errorf("row %d: tag changed from %#x to %#x", i, orig[i][0], r[0])
		}
		if diff := cmp.Diff(r[api.RowOverhead:], orig[i][api.RowOverhead:]); diff != "" {
			t.Errorf("row %d: payload changed: %s", i, diff)
		}
	}
	if got, want := s.RowWidth(), width+3; got != want {
		t.Errorf("RowWidth() = %d, want %d", got, want)
	}
}

func TestNormalizeNotIdempotent(t *testing.T) {
	raw := []byte{0x02, 0x01, 0x00, 0x07, 0xCC, 0x00}
	once, err := Normalize(raw, nil, 204, 204)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	// Feeding the corrected header back in leaves the shifted session too
	// wide for the nibble.
	twice, err := Normalize(once.Header[:api.RawHeaderLength], nil, 204, 204)
	if err == nil && bytes.Equal(once.Header, twice.Header) {
		t.Fatal("normalizing twice produced the same header")
	}
}

func TestNormalizeErrors(t *testing.T) {
	good := []byte{2, 0, 0, 1, 4, 0}
	for _, test := range []struct {
		name    string
		header  []byte
		rows    [][]byte
		width   int
		wantErr error
	}{
		{
			name:    "short header",
			header:  []byte{2, 0, 0, 1, 4},
			width:   4,
			wantErr: api.ErrMalformedHeader,
		}, {
			name:    "empty header",
			width:   4,
			wantErr: api.ErrMalformedHeader,
		}, {
			name:    "session overflows nibble",
			header:  []byte{2, 0x10, 0, 1, 4, 0},
			width:   4,
			wantErr: api.ErrMalformedHeader,
		}, {
			name:    "narrow row",
			header:  good,
			rows:    [][]byte{row(8, 0, 1, 4, 0), row(8, 0, 2, 3, 0)},
			width:   4,
			wantErr: api.ErrMalformedFragment,
		}, {
			name:    "zero width",
			header:  good,
			width:   0,
			wantErr: api.ErrMalformedFragment,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := Normalize(test.header, test.rows, 4, test.width); !errors.Is(err, test.wantErr) {
				t.Fatalf("Normalize() = %v, want %v", err, test.wantErr)
			}
		})
	}
}

func TestUncoded(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	raw, err := Uncoded{Session: 2}.Fragment(context.Background(), data, 4)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	if diff := cmp.Diff(raw.Header, []byte{api.FragSessionSetupReq, 2, 0, 3, 4, 0}); diff != "" {
		t.Errorf("raw header diff: %s", diff)
	}
	want := [][]byte{
		{8, 0, 1, 1, 2, 3, 4},
		{8, 0, 2, 5, 6, 7, 8},
		{8, 0, 3, 9, 10, 0, 0},
	}
	if diff := cmp.Diff(raw.Rows, want); diff != "" {
		t.Errorf("raw rows diff: %s", diff)
	}

	s, err := Fragment(context.Background(), Uncoded{Session: 2}, data, 4)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	if diff := cmp.Diff(s.Header, []byte{2, 0x20, 3, 0, 4, 0, 2}); diff != "" {
		t.Errorf("normalized header diff: %s", diff)
	}
	if diff := cmp.Diff(s.Fragments[2][:3], []byte{8, 3, 0}); diff != "" {
		t.Errorf("normalized row counter diff: %s", diff)
	}
}

func TestUncodedErrors(t *testing.T) {
	for _, test := range []struct {
		name  string
		u     Uncoded
		width int
	}{
		{name: "zero width", width: 0},
		{name: "wide", width: 256},
		{name: "bad session", u: Uncoded{Session: 4}, width: 4},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := test.u.Fragment(context.Background(), []byte{1}, test.width); err == nil {
				t.Fatal("Fragment succeeded")
			}
		})
	}
}

type failing struct{}

func (failing) Fragment(context.Context, []byte, int) (*Raw, error) {
	return nil, errors.New("boom")
}

func TestFragmentCollaboratorFailure(t *testing.T) {
	_, err := Fragment(context.Background(), failing{}, []byte{1}, 4)
	var ce *api.CollaboratorError
	if !errors.As(err, &ce) {
		t.Fatalf("Fragment() = %v, want CollaboratorError", err)
	}
	if ce.Collaborator != "fragmenter" {
		t.Errorf("Collaborator = %q", ce.Collaborator)
	}
}

const encoderLog = `Encoding file /tmp/temp.bin
Fragmentation header likely: 0x2 0x0 0x0 0x2 0x4 0x0
Number of fragments 2
[8, 0, 1, 1, 2, 3, 4]
[8, 0, 2, 5, 0, 0, 0]
[8, 0, 3, 4, 2, 3, 4]
done
`

func TestParseEncoderOutput(t *testing.T) {
	raw, err := ParseEncoderOutput([]byte(encoderLog))
	if err != nil {
		t.Fatalf("ParseEncoderOutput: %v", err)
	}
	if diff := cmp.Diff(raw.Header, []byte{2, 0, 0, 2, 4, 0}); diff != "" {
		t.Errorf("header diff: %s", diff)
	}
	want := [][]byte{
		{8, 0, 1, 1, 2, 3, 4},
		{8, 0, 2, 5, 0, 0, 0},
		{8, 0, 3, 4, 2, 3, 4},
	}
	if diff := cmp.Diff(raw.Rows, want); diff != "" {
		t.Errorf("rows diff: %s", diff)
	}
}

func TestParseEncoderOutputErrors(t *testing.T) {
	for _, test := range []struct {
		name string
		out  string
	}{
		{name: "no header", out: "[8, 0, 1, 2]\n"},
		{name: "bad row byte", out: "Fragmentation header likely: 0x2\n[8, 0, 300]\n"},
		{name: "duplicate header", out: "Fragmentation header likely: 0x2\nFragmentation header likely: 0x2\n"},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := ParseEncoderOutput([]byte(test.out)); err == nil {
				t.Fatal("ParseEncoderOutput succeeded")
			}
		})
	}
}

func TestEncoderExec(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh available")
	}
	e := Encoder{
		Command: []string{"sh", "-c", `test -s "$1" && printf '%s\n' "Fragmentation header likely: 0x2 0x0 0x0 0x1 0x$2 0x0" "[8, 0, 1, 9, 9, 9, 9]"`, "encoder", "{file}", "{size}"},
		Dir:     t.TempDir(),
	}
	raw, err := e.Fragment(context.Background(), []byte{9, 9, 9, 9}, 4)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	if diff := cmp.Diff(raw.Header, []byte{2, 0, 0, 1, 4, 0}); diff != "" {
		t.Errorf("header diff: %s", diff)
	}
	if got, want := len(raw.Rows), 1; got != want {
		t.Errorf("len(Rows) = %d, want %d", got, want)
	}

	e.Command = []string{"sh", "-c", "echo nope >&2; exit 3"}
	if _, err := Fragment(context.Background(), e, []byte{1}, 4); err == nil {
		t.Fatal("Fragment with failing encoder succeeded")
	}
}
