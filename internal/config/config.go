// Package config holds the procview configuration document, its defaults and
// the PROCVIEW_* environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/invopop/jsonschema"

	"procview/internal/labels"
)

// Config represents configuration for procview.
type Config struct {
	Debug    bool   `json:"debug" jsonschema:"title=Debug,description=Enable debug logging"`
	LogFile  string `json:"logFile,omitempty" jsonschema:"title=Log File,description=Write logs to this file instead of stderr"`
	AuditLog string `json:"auditLog,omitempty" jsonschema:"title=Audit Log,description=Append every patch and restore to this file"`

	Decode DecodeConfig `json:"decode" jsonschema:"title=Decode,description=Disassembly window sizing"`
	Flow   FlowConfig   `json:"flow" jsonschema:"title=Flow,description=Control-flow arrow layout"`
	Cache  CacheConfig  `json:"cache" jsonschema:"title=Cache,description=Raw byte page cache"`
	Labels LabelConfig  `json:"labels" jsonschema:"title=Labels,description=Address label cache"`
}

type DecodeConfig struct {
	Mode         int    `json:"mode" jsonschema:"title=Mode,description=x86 decoding mode,enum=32,enum=64"`
	Syntax       string `json:"syntax" jsonschema:"title=Syntax,description=Instruction text syntax,enum=intel,enum=gnu"`
	BytesBefore  int    `json:"bytesBefore" jsonschema:"title=Bytes Before,description=Context bytes read before the target address"`
	BytesAfter   int    `json:"bytesAfter" jsonschema:"title=Bytes After,description=Bytes read from the target address onwards"`
	MinimalBytes int    `json:"minimalBytes" jsonschema:"title=Minimal Bytes,description=Last-resort read size at the target"`
	PageRows     int    `json:"pageRows" jsonschema:"title=Page Rows,description=Rows on one screen page"`
	PagesCap     int    `json:"pagesCap" jsonschema:"title=Pages Cap,description=Decoded units are capped at pageRows times this"`
}

type FlowConfig struct {
	Lanes int `json:"lanes" jsonschema:"title=Lanes,description=Number of arrow lanes,minimum=1,maximum=32"`
}

type CacheConfig struct {
	PageSize int      `json:"pageSize" jsonschema:"title=Page Size,description=Cached page size in bytes (power of two)"`
	TTL      Duration `json:"ttl" jsonschema:"title=TTL,description=Maximum page age such as 250ms"`
	MaxPages int      `json:"maxPages" jsonschema:"title=Max Pages,description=Size bound before eviction"`
}

type LabelConfig struct {
	RegionSize uint64 `json:"regionSize" jsonschema:"title=Region Size,description=Granularity of the image memo (power of two up to the page size),maximum=4096"`
}

// Duration is a time.Duration that marshals as a Go duration string.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// JSONSchema describes Duration the way it is marshaled.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "string",
		Pattern:  `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
		Examples: []any{"250ms"},
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return fmt.Errorf("duration must be a string or nanoseconds: %w", err)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Decode: DecodeConfig{
			Mode:         64,
			Syntax:       "intel",
			BytesBefore:  0x1000,
			BytesAfter:   0x4000,
			MinimalBytes: 0x40,
			PageRows:     64,
			PagesCap:     128,
		},
		Flow: FlowConfig{Lanes: 6},
		Cache: CacheConfig{
			PageSize: 0x1000,
			TTL:      Duration(250 * time.Millisecond),
			MaxPages: 256,
		},
		Labels: LabelConfig{RegionSize: 0x1000},
	}
}

// Load reads the JSON file at path over the defaults and then applies
// environment overrides. An empty path or a missing file yields defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PROCVIEW_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PROCVIEW_DEBUG: %w", err)
		}
		c.Debug = b
	}
	if v := getenv("PROCVIEW_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := getenv("PROCVIEW_AUDIT_LOG"); v != "" {
		c.AuditLog = v
	}
	if v := getenv("PROCVIEW_LANES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PROCVIEW_LANES: %w", err)
		}
		c.Flow.Lanes = n
	}
	if v := getenv("PROCVIEW_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PROCVIEW_CACHE_TTL: %w", err)
		}
		c.Cache.TTL = Duration(d)
	}
	if v := getenv("PROCVIEW_SYNTAX"); v != "" {
		c.Decode.Syntax = v
	}
	return nil
}

// UnitCap is the maximum number of units one window decodes.
func (d DecodeConfig) UnitCap() int {
	return d.PageRows * d.PagesCap
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	d := c.Decode
	switch {
	case d.Mode != 32 && d.Mode != 64:
		return fmt.Errorf("decode.mode must be 32 or 64, got %d", d.Mode)
	case d.Syntax != "intel" && d.Syntax != "gnu":
		return fmt.Errorf("decode.syntax must be intel or gnu, got %q", d.Syntax)
	case d.BytesBefore < 0 || d.BytesAfter <= 0 || d.MinimalBytes <= 0:
		return errors.New("decode byte counts must be positive")
	case d.PageRows <= 0 || d.PagesCap <= 0:
		return errors.New("decode.pageRows and decode.pagesCap must be positive")
	case d.UnitCap() <= d.BytesBefore:
		// Every context byte could decode to its own unit; the cap must
		// leave room to reach the target.
		return fmt.Errorf("decode unit cap %d must exceed bytesBefore %d", d.UnitCap(), d.BytesBefore)
	case c.Flow.Lanes < 1 || c.Flow.Lanes > 32:
		return fmt.Errorf("flow.lanes must be within 1..32, got %d", c.Flow.Lanes)
	case !powerOfTwo(uint64(c.Cache.PageSize)):
		return fmt.Errorf("cache.pageSize must be a power of two, got %d", c.Cache.PageSize)
	case c.Cache.TTL <= 0:
		return errors.New("cache.ttl must be positive")
	case c.Cache.MaxPages <= 0:
		return errors.New("cache.maxPages must be positive")
	case !powerOfTwo(c.Labels.RegionSize) || c.Labels.RegionSize > labels.DefaultRegionSize:
		// A larger region could hold two images under one memo entry.
		return fmt.Errorf("labels.regionSize must be a power of two up to %#x, got %#x", labels.DefaultRegionSize, c.Labels.RegionSize)
	}
	return nil
}

func powerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}
