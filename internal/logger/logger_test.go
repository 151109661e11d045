package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"

	"github.com/bilal/router-rebooter/internal/config"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rebooter.log")

	err := Init(config.LoggingConfig{Level: "info", Format: "json", File: path})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	log.Info().Str("component", "test").Msg("hello from logger test")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello from logger test") {
		t.Errorf("log file missing entry: %q", data)
	}
}

func TestInitBadFilePath(t *testing.T) {
	err := Init(config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	if err == nil {
		t.Fatal("expected error for unwritable log file")
	}
}
