// Copyright 2024-2025 CardinalHQ, Inc
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

package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/klauspost/compress/zlib"
)

const (
	MinLevel     = zlib.DefaultCompression
	MaxLevel     = zlib.BestCompression
	DefaultLevel = zlib.DefaultCompression
)

var ErrInvalidLevel = errors.New("compression level must be between -1 and 9")

// Codec optionally zlib-compresses payloads.  When disabled, Encode and
// Decode return their input unchanged.  Settings may be changed while
// other goroutines are encoding.
type Codec struct {
	enabled atomic.Bool
	level   atomic.Int32
}

func New(enabled bool, level int) (*Codec, error) {
	c := &Codec{}
	c.SetEnabled(enabled)
	if err := c.SetLevel(level); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Codec) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

func (c *Codec) Enabled() bool {
	return c.enabled.Load()
}

func (c *Codec) SetLevel(level int) error {
	if level < MinLevel || level > MaxLevel {
		return ErrInvalidLevel
	}
	c.level.Store(int32(level))
	return nil
}

func (c *Codec) Level() int {
	return int(c.level.Load())
}

func (c *Codec) Encode(data []byte) ([]byte, error) {
	if !c.Enabled() {
		return data, nil
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, c.Level())
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Codec) Decode(data []byte) ([]byte, error) {
	if !c.Enabled() {
		return data, nil
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unable to read compressed payload: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("unable to decompress payload: %w", err)
	}
	return out, nil
}
