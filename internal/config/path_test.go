package config

import (
	"os"
	"testing"
)

func TestDefaultDataDirXDGOverride(t *testing.T) {
	originalXDG := os.Getenv("XDG_DATA_HOME")
	t.Cleanup(func() {
		if originalXDG != "" {
			os.Setenv("XDG_DATA_HOME", originalXDG)
		} else {
			os.Unsetenv("XDG_DATA_HOME")
		}
	})

	os.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultDataDir(); got != "/custom/data/mqd" {
		t.Fatalf("DefaultDataDir() = %q, want /custom/data/mqd", got)
	}
}

func TestDefaultDataDirNonEmpty(t *testing.T) {
	os.Unsetenv("XDG_DATA_HOME")
	if got := DefaultDataDir(); got == "" {
		t.Fatal("DefaultDataDir() returned empty path")
	}
}
