package config

import (
	"os"
	"path/filepath"
	"testing"
)

// fakeBackend is an in-memory ConfigBackend for tests.
type fakeBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{strings: make(map[string]string), ints: make(map[string]int)}
}

func (f *fakeBackend) GetString(key string) (string, bool, error) {
	v, ok := f.strings[key]
	return v, ok, nil
}

func (f *fakeBackend) GetInt(key string) (int, bool, error) {
	v, ok := f.ints[key]
	return v, ok, nil
}

func (f *fakeBackend) SetString(key, val string) error {
	f.strings[key] = val
	return nil
}

func (f *fakeBackend) SetInt(key string, val int) error {
	f.ints[key] = val
	return nil
}

func (f *fakeBackend) Delete(key string) error {
	delete(f.strings, key)
	delete(f.ints, key)
	return nil
}

func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnvOverrides(t)

	cfg, err := loadWith(newFakeBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Worker.PollIntervalMS != 500 {
		t.Errorf("Worker.PollIntervalMS = %d, want 500", cfg.Worker.PollIntervalMS)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
	if cfg.Catalog.SeedFile != "" {
		t.Errorf("Catalog.SeedFile = %q, want empty", cfg.Catalog.SeedFile)
	}
}

func TestLoad_BackendValues(t *testing.T) {
	clearEnvOverrides(t)

	b := newFakeBackend()
	b.ints["server.port"] = 5000
	b.strings["storage.data_dir"] = "/tmp/inward-test"
	b.strings["log.level"] = "debug"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/inward-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_EnvOverridesBackend(t *testing.T) {
	clearEnvOverrides(t)
	t.Setenv("INWARD_SERVER_PORT", "7000")
	t.Setenv("INWARD_LOG_LEVEL", "debug")

	b := newFakeBackend()
	b.ints["server.port"] = 5000

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000 (env wins)", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	clearEnvOverrides(t)

	b := newFakeBackend()
	b.ints["server.port"] = 99999

	if _, err := loadWith(b); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestShowAll(t *testing.T) {
	clearEnvOverrides(t)

	cfg, err := loadWith(newFakeBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	infos := ShowAll(cfg)
	if len(infos) != len(specs) {
		t.Fatalf("got %d keys, want %d", len(infos), len(specs))
	}

	byKey := make(map[string]KeyInfo, len(infos))
	for _, info := range infos {
		byKey[info.Key] = info
	}
	if byKey["server.port"].Value != "4600" {
		t.Errorf("server.port = %q, want 4600", byKey["server.port"].Value)
	}
	if byKey["server.port"].EnvVar != "INWARD_SERVER_PORT" {
		t.Errorf("env var = %q", byKey["server.port"].EnvVar)
	}
}

func TestFileBackend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	b := newFileBackend(path)
	if err := b.SetString("log.level", "debug"); err != nil {
		t.Fatalf("SetString failed: %v", err)
	}
	if err := b.SetInt("server.port", 5000); err != nil {
		t.Fatalf("SetInt failed: %v", err)
	}

	// A fresh backend reads the persisted file.
	b = newFileBackend(path)
	s, ok, err := b.GetString("log.level")
	if err != nil || !ok || s != "debug" {
		t.Errorf("GetString = %q, %v, %v", s, ok, err)
	}
	// JSON numbers come back as float64; the backend must coerce.
	i, ok, err := b.GetInt("server.port")
	if err != nil || !ok || i != 5000 {
		t.Errorf("GetInt = %d, %v, %v", i, ok, err)
	}

	if _, ok, _ := b.GetString("missing"); ok {
		t.Error("missing key reported present")
	}

	if err := b.Delete("log.level"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := b.GetString("log.level"); ok {
		t.Error("deleted key still present")
	}
}

func TestFileBackend_MissingFile(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "does-not-exist.json"))

	if _, ok, err := b.GetString("anything"); ok || err != nil {
		t.Errorf("GetString on missing file = %v, %v", ok, err)
	}
}

func TestGetAPIToken_EnvWins(t *testing.T) {
	t.Setenv("INWARD_API_TOKEN", "from-env")

	token, err := GetAPIToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "from-env" {
		t.Errorf("token = %q, want from-env", token)
	}
}

func TestGetAPIToken_GeneratedAndPersisted(t *testing.T) {
	t.Setenv("INWARD_API_TOKEN", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	first, err := GetAPIToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(first))
	}

	second, err := GetAPIToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != first {
		t.Errorf("token not stable across calls: %q vs %q", second, first)
	}

	if _, err := os.Stat(filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "inward", "config.json")); err != nil {
		t.Errorf("config file not written: %v", err)
	}
}
