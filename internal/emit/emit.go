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

// Package emit writes fragment sets and trust anchors in the forms the
// device firmware build consumes.
package emit

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/template"

	"github.com/transparency-dev/fota-packager/internal/anchor"
	"github.com/transparency-dev/fota-packager/internal/frag"
)

var funcs = template.FuncMap{
	"hex": hexList,
	"dec": decList,
}

var packetsTmpl = template.Must(template.New("packets.h").Funcs(funcs).Parse(`// Code generated by fotactl. DO NOT EDIT.

#ifndef PACKETS_H
#define PACKETS_H

#include "mbed.h"

const uint8_t FAKE_PACKETS_HEADER[] = { {{hex .Header}} };

const uint8_t FAKE_PACKETS[][{{.RowWidth}}] = {
{{- range .Fragments}}
    { {{dec .}} },
{{- end}}
};

// CRC64 of the reassembled package, delivered out of band in production.
uint64_t FAKE_PACKETS_CRC64_HASH = 0x{{printf "%016x" .CRC}};

#endif
`))

var certsTmpl = template.Must(template.New("update_certs.h").Funcs(funcs).Parse(`// Code generated by fotactl. DO NOT EDIT.

#ifndef _UPDATE_CERTS_H
#define _UPDATE_CERTS_H
{{with .RSA}}
const char * UPDATE_CERT_PUBKEY_N = "{{.Modulus}}";
const char * UPDATE_CERT_PUBKEY_E = "{{.Exponent}}";
{{end}}{{with .EC}}
const uint8_t UPDATE_CERT_PUBKEY[] = { {{hex .Blob}} };
const size_t UPDATE_CERT_LENGTH = {{len .Blob}};
{{end}}
const uint8_t UPDATE_CERT_MANUFACTURER_UUID[16] = { {{hex .Manufacturer}} };
const uint8_t UPDATE_CERT_DEVICE_CLASS_UUID[16] = { {{hex .DeviceClass}} };

#endif // _UPDATE_CERTS_H_
`))

func hexList(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = "0x" + strconv.FormatUint(uint64(v), 16)
	}
	return strings.Join(parts, ", ")
}

func decList(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = strconv.Itoa(int(v))
	}
	return strings.Join(parts, ", ")
}

// PacketsHeader writes set as a C header, with crc as the expected CRC64 of
// the reassembled package.
func PacketsHeader(w io.Writer, set *frag.Set, crc uint64) error {
	if set == nil {
		return errors.New("nil fragment set")
	}
	return packetsTmpl.Execute(w, struct {
		Header    []byte
		Fragments [][]byte
		RowWidth  int
		CRC       uint64
	}{
		Header:    set.Header,
		Fragments: set.Fragments,
		RowWidth:  set.RowWidth(),
		CRC:       crc,
	})
}

// CertsHeader writes r as a C header.
func CertsHeader(w io.Writer, r *anchor.Record) error {
	if r == nil {
		return errors.New("nil trust anchor")
	}
	data := struct {
		RSA          *anchor.RSAKey
		EC           *anchor.ECKey
		Manufacturer []byte
		DeviceClass  []byte
	}{
		Manufacturer: r.ManufacturerUUID[:],
		DeviceClass:  r.DeviceClassUUID[:],
	}
	switch k := r.Key.(type) {
	case anchor.RSAKey:
		data.RSA = &k
	case anchor.ECKey:
		data.EC = &k
	default:
		return fmt.Errorf("unsupported key material %T", r.Key)
	}
	return certsTmpl.Execute(w, data)
}

// Binary writes the corrected header followed by every row, the layout
// read back by receiver.ParseBinary.
func Binary(w io.Writer, set *frag.Set) error {
	if set == nil {
		return errors.New("nil fragment set")
	}
	if _, err := w.Write(set.Header); err != nil {
		return fmt.Errorf("failed to write header: %v", err)
	}
	for i, r := range set.Fragments {
		if _, err := w.Write(r); err != nil {
			return fmt.Errorf("failed to write row %d: %v", i, err)
		}
	}
	return nil
}
