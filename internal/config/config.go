package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultBaseURL is the fallback backend address used whenever no routing
// information is available. Always considered reachable, never empty.
const DefaultBaseURL = "http://127.0.0.1:4096"

type Config struct {
	DiscoverInterval time.Duration
	HealthTimeout    time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	UnaryTimeout     time.Duration
	JournalPath      string
	JournalRetention time.Duration
	FallbackBaseURL  string
}

func DefaultConfig() Config {
	return Config{
		DiscoverInterval: 5 * time.Second,
		HealthTimeout:    45 * time.Second,
		BackoffBase:      250 * time.Millisecond,
		BackoffMax:       8 * time.Second,
		UnaryTimeout:     10 * time.Second,
		JournalPath:      defaultJournalPath(),
		JournalRetention: 7 * 24 * time.Hour,
		FallbackBaseURL:  DefaultBaseURL,
	}
}

func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "fleetview.db"
	}
	return filepath.Join(home, ".local", "state", "fleetview", "journal.db")
}
