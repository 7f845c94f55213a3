// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"bytes"

	"github.com/grailbio/base/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes v for delivery to a remote process. Record types
// that travel in bulk should be tagged `msgpack:",as_array"` so that
// they are encoded positionally.
func Encode(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, errors.E(errors.Invalid, "comm: encode", err)
	}
	return b, nil
}

// Decode deserializes a payload produced by Encode into v.
func Decode(payload []byte, v interface{}) error {
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return errors.E(errors.Invalid, "comm: decode", err)
	}
	return nil
}

// arrayLen returns the length of the msgpack array at the head of
// payload without decoding its elements.
func arrayLen(payload []byte) (int, error) {
	n, err := msgpack.NewDecoder(bytes.NewReader(payload)).DecodeArrayLen()
	if err != nil {
		return 0, errors.E(errors.Invalid, "comm: decode batch header", err)
	}
	if n < 0 {
		// A nil slice encodes as nil.
		n = 0
	}
	return n, nil
}
