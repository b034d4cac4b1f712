package config

import (
	"os"
	"testing"
)

func withEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	withEnv(t, "ENV", "production")
	withEnv(t, "MEMVA_JOB_CONCURRENCY", "7")
	withEnv(t, "MEMVA_JOB_MAX_RETRIES", "9")

	c := load()
	if c.Env != "production" {
		t.Fatalf("expected env production, got %s", c.Env)
	}
	if c.JobWorkerConcurrency != 7 {
		t.Fatalf("expected concurrency 7, got %d", c.JobWorkerConcurrency)
	}
	if c.JobMaxRetries != 9 {
		t.Fatalf("expected max retries 9, got %d", c.JobMaxRetries)
	}
}

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	for _, key := range []string{"ENV", "MEMVA_JOB_CONCURRENCY", "MEMVA_CLI_PATH"} {
		old, had := os.LookupEnv(key)
		os.Unsetenv(key)
		t.Cleanup(func(k, v string, had bool) func() {
			return func() {
				if had {
					os.Setenv(k, v)
				}
			}
		}(key, old, had))
	}

	c := load()
	if c.Env != "development" {
		t.Fatalf("expected default env development, got %s", c.Env)
	}
	if c.JobWorkerConcurrency != 20 {
		t.Fatalf("expected default concurrency 20, got %d", c.JobWorkerConcurrency)
	}
	if c.CLIPath != "" {
		t.Fatalf("expected empty default CLIPath, got %s", c.CLIPath)
	}
}

func TestGetEnvInt_IgnoresUnparseableValue(t *testing.T) {
	withEnv(t, "MEMVA_JOB_MAX_RETRIES", "not-a-number")
	if got := getEnvInt("MEMVA_JOB_MAX_RETRIES", 3); got != 3 {
		t.Fatalf("expected fallback default 3 for unparseable value, got %d", got)
	}
}

func TestIsDevelopment(t *testing.T) {
	dev := &Config{Env: "development"}
	if !dev.IsDevelopment() {
		t.Fatal("expected development env to report IsDevelopment() true")
	}
	prod := &Config{Env: "production"}
	if prod.IsDevelopment() {
		t.Fatal("expected production env to report IsDevelopment() false")
	}
	unset := &Config{Env: ""}
	if !unset.IsDevelopment() {
		t.Fatal("expected empty env to default to development")
	}
}

func TestDatabasePath_DevVsProdFilename(t *testing.T) {
	dev := &Config{Env: "development", DataDir: "/data"}
	if got, want := dev.DatabasePath(), "/data/memva.db"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	prod := &Config{Env: "production", DataDir: "/data"}
	if got, want := prod.DatabasePath(), "/data/memva-prod.db"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestBridgeLogPath(t *testing.T) {
	c := &Config{DataDir: "/data"}
	if got, want := c.BridgeLogPath(), "/data/bridge.log"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
