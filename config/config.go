// Package config carries the tunables of the undo log subsystem and loads
// them from an ini file the way the rest of the engine configuration is
// loaded.
package config

import (
	"trxundo/pages"

	"gopkg.in/ini.v1"
)

type Config struct {
	// PageReuseLimit is the free-cursor threshold below which a finished
	// single-page undo log is cached for reuse instead of being freed or
	// handed to purge. The default of page size / 4 is tuned, not derived,
	// so it stays configurable.
	PageReuseLimit uint16

	// RsegMaxSize caps the number of undo pages charged to one rollback
	// segment.
	RsegMaxSize uint32

	// DegradedStartup skips the undo slot scan at startup, treating every
	// slot as unknown. An availability/consistency trade-off for starting
	// a server whose undo metadata may be unreliable.
	DegradedStartup bool
}

func Default() Config {
	return Config{
		PageReuseLimit: uint16(pages.PageSize / 4),
		RsegMaxSize:    0xFFFFFFFE,
	}
}

// Load reads the [undo] section of an ini file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := ini.Load(path)
	if err != nil {
		return cfg, err
	}

	sec := f.Section("undo")
	if k, err := sec.GetKey("page_reuse_limit"); err == nil {
		if v, err := k.Uint(); err == nil {
			cfg.PageReuseLimit = uint16(v)
		}
	}
	if k, err := sec.GetKey("rseg_max_size"); err == nil {
		if v, err := k.Uint(); err == nil {
			cfg.RsegMaxSize = uint32(v)
		}
	}
	if k, err := sec.GetKey("degraded_startup"); err == nil {
		if v, err := k.Bool(); err == nil {
			cfg.DegradedStartup = v
		}
	}

	return cfg, nil
}
