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

package badgerstore

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type Config struct {
	// Dir is the database directory.  Empty keeps the database in memory.
	Dir        string `mapstructure:"dir"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

var errSyncWritesInMemory = errors.New("badger.sync_writes requires badger.dir")

func (cfg *Config) Validate() error {
	if cfg.Dir == "" && cfg.SyncWrites {
		return errSyncWritesInMemory
	}
	return nil
}

// badgerLogger routes badger's log output through zap.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func newBadgerLogger(logger *zap.Logger) *badgerLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &badgerLogger{sugar: logger.Named("badger").Sugar()}
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.sugar.Error(trimmed(format, args))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.sugar.Warn(trimmed(format, args))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.sugar.Info(trimmed(format, args))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.sugar.Debug(trimmed(format, args))
}

// badger terminates its messages with a newline.
func trimmed(format string, args []any) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
