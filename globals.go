package main

import (
	"io"
	"log"
	"time"
)

// --- Configuration ---
const (
	DefaultAddr     = ":8080"
	DefaultDBPath   = "./data/ownrealm.db"
	MinTickDuration = 250 * time.Millisecond
)

// ServerConfig is read from the yaml file named by OWNREALM_CONFIG and then
// overridden from the environment.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	DBPath         string        `yaml:"db_path"`
	DBDriver       string        `yaml:"db_driver"`
	CommandControl bool          `yaml:"command_control"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	SnapshotEvery  int64         `yaml:"snapshot_every"` // ticks; 0 disables
	TradeSpeed     int           `yaml:"trade_speed"`    // seconds per field
	MapLimit       int           `yaml:"map_limit"`
}

var (
	// Infrastructure
	InfoLog  = log.New(io.Discard, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLog = log.New(io.Discard, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)

	Config ServerConfig
)
