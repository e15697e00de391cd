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

package redisstore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	// Addrs is a single host:port, or the sentinel addresses when
	// MasterName is set.
	Addrs      []string `mapstructure:"addrs"`
	MasterName string   `mapstructure:"master_name"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	// DB selects the logical database.  FlushNamespace empties only this
	// database.
	DB int `mapstructure:"db"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
}

var (
	errMissingAddrs       = errors.New("redis.addrs must contain at least one address")
	errClusterUnsupported = errors.New("redis.addrs may list several addresses only with redis.master_name (sentinel); cluster mode is not supported")
	errInvalidDB          = errors.New("redis.db must not be negative")
	errInvalidPoolSize    = errors.New("redis.pool_size must not be negative")
)

func (cfg *Config) Validate() error {
	if len(cfg.Addrs) == 0 {
		return errMissingAddrs
	}
	if len(cfg.Addrs) > 1 && cfg.MasterName == "" {
		return errClusterUnsupported
	}
	if cfg.DB < 0 {
		return errInvalidDB
	}
	if cfg.PoolSize < 0 {
		return errInvalidPoolSize
	}
	return nil
}

func (cfg *Config) universalOptions() *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
}
