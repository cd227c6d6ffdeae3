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

package api

import (
	"errors"
	"fmt"
	"testing"
)

func TestCollaborator(t *testing.T) {
	if err := Collaborator("signer", nil); err != nil {
		t.Fatalf("Collaborator(nil) = %v, want nil", err)
	}

	cause := errors.New("hsm offline")
	err := fmt.Errorf("packaging: %w", Collaborator("signer", cause))
	var ce *CollaboratorError
	if !errors.As(err, &ce) {
		t.Fatalf("errors.As(%v) failed", err)
	}
	if got, want := ce.Collaborator, "signer"; got != want {
		t.Errorf("Collaborator = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(%v, cause) = false", err)
	}
	if got, want := ce.Error(), "signer failed: hsm offline"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestRowWidth(t *testing.T) {
	for _, test := range []struct {
		payload, want int
	}{
		{payload: 0, want: 3},
		{payload: DefaultFragmentSize, want: 207},
	} {
		if got := RowWidth(test.payload); got != test.want {
			t.Errorf("RowWidth(%d) = %d, want %d", test.payload, got, test.want)
		}
	}
}

func TestHeaderLayout(t *testing.T) {
	if HeaderPaddingIndex != RawHeaderLength {
		t.Errorf("padding index %d, want it appended after the %d raw header bytes", HeaderPaddingIndex, RawHeaderLength)
	}
	if HeaderLength != HeaderPaddingIndex+1 {
		t.Errorf("HeaderLength = %d, want %d", HeaderLength, HeaderPaddingIndex+1)
	}
}
