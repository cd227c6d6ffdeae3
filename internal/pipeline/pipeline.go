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

// Package pipeline runs a complete packaging pass over one firmware image.
package pipeline

import (
	"context"
	"errors"
	"time"

	"k8s.io/klog/v2"

	"github.com/transparency-dev/fota-packager/api"
	"github.com/transparency-dev/fota-packager/internal/anchor"
	"github.com/transparency-dev/fota-packager/internal/bundle"
	"github.com/transparency-dev/fota-packager/internal/diff"
	"github.com/transparency-dev/fota-packager/internal/frag"
	"github.com/transparency-dev/fota-packager/internal/identity"
	"github.com/transparency-dev/fota-packager/internal/integrity"
	"github.com/transparency-dev/fota-packager/internal/metrics"
	"github.com/transparency-dev/fota-packager/internal/signer"
)

// Pipeline holds the collaborators and settings for packaging runs. A
// Pipeline is not modified by Run.
type Pipeline struct {
	Identity   *identity.Store
	Signer     signer.Signer
	Diff       diff.Engine
	Fragmenter frag.Fragmenter
	Layout     bundle.Layout
	// FragmentSize defaults to api.DefaultFragmentSize.
	FragmentSize int
	Hasher       integrity.Hasher
	// Key is the public key the receiver verifies with, no trust anchor is
	// produced when it is nil.
	Key anchor.KeyMaterial
	// Metrics, if set, records the outcome of every run.
	Metrics *metrics.Metrics
}

// Request is one packaging job.
type Request struct {
	New []byte
	// Old is the image installed on the device, a diff package is built
	// when it is set.
	Old []byte
}

// Result holds every artifact of a run.
type Result struct {
	Identity  identity.Identity
	Package   *bundle.Package
	Fragments *frag.Set
	CRC       uint64
	Anchor    *anchor.Record
}

// Run builds, fragments and hashes a package for req.
//
// Any failure aborts the run and no partial result is returned.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	r, err := p.run(ctx, req)
	if err != nil {
		p.Metrics.Failed(p.Layout.String(), err, time.Since(start))
		return nil, err
	}
	p.Metrics.Succeeded(p.Layout.String(), r.Package.Len(), len(r.Fragments.Fragments), time.Since(start))
	return r, nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Result, error) {
	if len(req.New) == 0 {
		return nil, errors.New("empty firmware image")
	}
	if p.Signer == nil || p.Fragmenter == nil {
		return nil, errors.New("pipeline needs a signer and a fragmenter")
	}
	id, err := p.Identity.Identity()
	if err != nil {
		return nil, err
	}

	// Everything that can reject a diff request is checked before signing.
	var d bundle.DiffDescriptor
	if req.Old != nil {
		if p.Layout != bundle.LayoutDiffCapable {
			return nil, bundle.ErrDiffNeedsDiffLayout
		}
		if p.Diff == nil {
			return nil, errors.New("diff requested but no diff engine configured")
		}
		if d, err = bundle.DescriptorFor(req.Old); err != nil {
			return nil, err
		}
	}

	sig, err := p.Signer.Sign(req.New)
	if err != nil {
		return nil, api.Collaborator("signer", err)
	}

	payload := req.New
	if req.Old != nil {
		if payload, err = p.Diff.Diff(ctx, req.Old, req.New); err != nil {
			var ce *api.CollaboratorError
			if !errors.As(err, &ce) {
				err = api.Collaborator("diff", err)
			}
			return nil, err
		}
	}

	pkg, err := bundle.Builder{Layout: p.Layout, Scheme: p.Signer.Scheme()}.Build(sig, id, d, payload)
	if err != nil {
		return nil, err
	}

	width := p.FragmentSize
	if width == 0 {
		width = api.DefaultFragmentSize
	}
	b := pkg.Bytes()
	set, err := frag.Fragment(ctx, p.Fragmenter, b, width)
	if err != nil {
		return nil, err
	}

	r := &Result{
		Identity:  id,
		Package:   pkg,
		Fragments: set,
		CRC:       p.Hasher.Sum(b),
	}
	if p.Key != nil {
		if r.Anchor, err = anchor.Emit(id, p.Key); err != nil {
			return nil, err
		}
	}
	klog.Infof("Packaged %d byte image: %s package of %d bytes, %d fragments, CRC64 %016x",
		len(req.New), p.Layout, pkg.Len(), len(set.Fragments), r.CRC)
	return r, nil
}
