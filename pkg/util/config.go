// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

type StorageOptions struct {
	Path            string `toml:"path" mapstructure:"path"`
	BlockSize       uint64 `toml:"blockSize" mapstructure:"blockSize"`
	VectorSize      uint64 `toml:"vectorSize" mapstructure:"vectorSize"`
	RowGroupVectors uint64 `toml:"rowGroupVectors" mapstructure:"rowGroupVectors"`
	SegmentSize     uint64 `toml:"segmentSize" mapstructure:"segmentSize"`
}

type LogOptions struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Filename   string `toml:"filename" mapstructure:"filename"`
	MaxSize    int    `toml:"maxSize" mapstructure:"maxSize"`
	MaxDays    int    `toml:"maxDays" mapstructure:"maxDays"`
	MaxBackups int    `toml:"maxBackups" mapstructure:"maxBackups"`
}

type DebugOptions struct {
	PrintTree   bool `toml:"printTree" mapstructure:"printTree"`
	PrintResult bool `toml:"printResult" mapstructure:"printResult"`
	MaxPrintRow int  `toml:"maxPrintRow" mapstructure:"maxPrintRow"`
}

type Config struct {
	Storage StorageOptions `toml:"storage" mapstructure:"storage"`
	Log     LogOptions     `toml:"log" mapstructure:"log"`
	Debug   DebugOptions   `toml:"debug" mapstructure:"debug"`
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageOptions{
			Path:            "colstore.db",
			BlockSize:       256 * 1024,
			VectorSize:      DefaultVectorSize,
			RowGroupVectors: 60,
			SegmentSize:     DefaultVectorSize * 60,
		},
		Log: LogOptions{
			Level:   "info",
			Format:  "console",
			MaxSize: 512,
		},
		Debug: DebugOptions{
			MaxPrintRow: 20,
		},
	}
}

func (cfg *Config) Check() error {
	st := &cfg.Storage
	if st.VectorSize == 0 || st.RowGroupVectors == 0 {
		return fmt.Errorf("invalid layout: vector size %d, row group vectors %d",
			st.VectorSize, st.RowGroupVectors)
	}
	rgSize := st.VectorSize * st.RowGroupVectors
	if st.SegmentSize == 0 || st.SegmentSize > rgSize {
		st.SegmentSize = rgSize
	}
	if st.BlockSize < 4096 {
		return fmt.Errorf("block size %d is less than 4096", st.BlockSize)
	}
	return nil
}

// LoadConfigFile decodes a toml file over the default config.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}
