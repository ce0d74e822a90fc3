// Package config loads an RMTP engine Config from a TOML file, the way
// the teacher corpus's daemon-shaped packages are configured (go.mod
// declares github.com/BurntSushi/toml as a direct dependency for exactly
// this purpose).
package config

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Unidata/rmtp"
)

// File is the on-disk TOML shape; durations are plain seconds so the file
// format stays readable without a custom TOML unmarshaler.
type File struct {
	TCPAddr   string `toml:"tcp_addr"`
	TCPPort   int    `toml:"tcp_port"`
	McastAddr string `toml:"mcast_addr"`
	McastPort int    `toml:"mcast_port"`

	MulticastTTL int    `toml:"multicast_ttl"`
	IfaceAddr    string `toml:"iface_addr"`

	InitialProdIndex uint32 `toml:"initial_prodindex"`

	RetentionSeconds   float64 `toml:"retention_seconds"`
	EOPWatchdogSeconds float64 `toml:"eop_watchdog_seconds"`

	RateBPS uint64 `toml:"rate_bps"`
}

// Load parses path and returns an rmtp.Config, applying spec.md §6's
// documented defaults for any field the file omits.
func Load(path string) (*rmtp.Config, error) {
	f := File{
		MulticastTTL:       1,
		IfaceAddr:          "0.0.0.0",
		RetentionSeconds:   120,
		EOPWatchdogSeconds: 0.5,
	}
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, err
	}
	cfg := &rmtp.Config{
		TCPAddr:            f.TCPAddr,
		TCPPort:            f.TCPPort,
		McastAddr:          f.McastAddr,
		McastPort:          f.McastPort,
		MulticastTTL:       f.MulticastTTL,
		IfaceAddr:          f.IfaceAddr,
		InitialProdIndex:   rmtp.ProdIndex(f.InitialProdIndex),
		RetentionTimeout:   time.Duration(f.RetentionSeconds * float64(time.Second)),
		EOPWatchdogTimeout: time.Duration(f.EOPWatchdogSeconds * float64(time.Second)),
		RateBPS:            f.RateBPS,
	}
	return cfg, nil
}
