// Copyright 2026 The Logstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the datastore's standard CBOR encoding
// configuration. The human-facing files (dataset manifest, import
// marker, session info) are YAML; derived binary state (the store's
// dataset index cache) is CBOR through this package.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. Same logical data always produces identical bytes, which
// keeps rewritten cache files stable across rebuilds.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Cache records never use non-string map keys. When the
		// decoder's target is any, pick map[string]any rather than
		// the CBOR default map[any]any so decoded values interoperate
		// with the rest of the codebase.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
