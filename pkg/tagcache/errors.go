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

package tagcache

import (
	"errors"
	"fmt"

	"github.com/cardinalhq/tagcache/pkg/kvstore"
)

var (
	// ErrInvalidArgument is returned for a malformed identifier, tag,
	// lifetime or compression level.  Nothing is sent to the store.
	ErrInvalidArgument = errors.New("tagcache: invalid argument")

	// ErrInvalidData is returned for a payload the cache cannot store or
	// a stored payload it cannot decode.
	ErrInvalidData = errors.New("tagcache: invalid data")

	// ErrStoreOperation wraps a failed store command or batch.
	ErrStoreOperation = errors.New("tagcache: store operation failed")

	// ErrConnectionFailure is returned by store constructors when the
	// store cannot be reached.
	ErrConnectionFailure = kvstore.ErrConnectionFailure
)

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func invalidData(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidData, fmt.Sprintf(format, args...))
}

// storeFailure keeps err matchable next to ErrStoreOperation.
func storeFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreOperation, op, err)
}
