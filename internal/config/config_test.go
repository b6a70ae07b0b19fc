package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	err := c.ApplyEnv(mapLookup(map[string]string{
		"NAS_MEDIA_VIDEO_DIR":  "/srv/media",
		"NAS_MEDIA_PORT":       "9000",
		"NAS_MEDIA_APP_DIR":    " /var/lib/nas ",
		"NAS_MEDIA_MAX_CONNS":  "16",
		"NAS_MEDIA_COOKIE_KEY": "k",
		"NAS_MEDIA_LOG_FILE":   "",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if c.Root != "/srv/media" || c.Port != 9000 || c.AppDir != "/var/lib/nas" || c.MaxConns != 16 || c.CookieKey != "k" {
		t.Fatalf("cfg=%+v", c)
	}
	if c.LogFile != "" {
		t.Fatalf("empty env value should not override: %q", c.LogFile)
	}

	if err := c.ApplyEnv(mapLookup(map[string]string{"NAS_MEDIA_PORT": "eighty"})); err == nil {
		t.Fatalf("bad port accepted")
	}
}

func TestNormalize(t *testing.T) {
	root := t.TempDir()
	link := filepath.Join(t.TempDir(), "media")
	if err := os.Symlink(root, link); err != nil {
		t.Skip("symlinks unsupported:", err)
	}
	canonRoot, _ := filepath.EvalSymlinks(root)

	c := Default()
	c.Root = link
	c.AppDir = t.TempDir()
	c.LogLevel = ""
	if err := c.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if c.Root != canonRoot {
		t.Fatalf("root=%q want %q", c.Root, canonRoot)
	}
	if c.LogFile != filepath.Join(c.AppDir, DefaultLogName) || c.LogLevel != "info" {
		t.Fatalf("derived defaults: %+v", c)
	}
}

func TestNormalize_Errors(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cases := map[string]func(*Config){
		"missing root": func(c *Config) { c.Root = filepath.Join(t.TempDir(), "nope") },
		"file root":    func(c *Config) { c.Root = file },
		"empty root":   func(c *Config) { c.Root = " " },
		"bad port":     func(c *Config) { c.Port = 70000 },
		"bad level":    func(c *Config) { c.LogLevel = "loud" },
		"neg conns":    func(c *Config) { c.MaxConns = -1 },
	}
	for name, mut := range cases {
		c := Default()
		c.Root = t.TempDir()
		c.AppDir = t.TempDir()
		mut(&c)
		if err := c.Normalize(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoad_Precedence(t *testing.T) {
	if _, ok := os.LookupEnv("NAS_MEDIA_LOG_LEVEL"); ok {
		t.Skip("NAS_MEDIA_LOG_LEVEL set in environment")
	}
	dir := t.TempDir()
	rootA := t.TempDir()
	rootB := t.TempDir()

	cfgFile := filepath.Join(dir, "config.json")
	js := `{"root": ` + quote(rootA) + `, "port": 9100, "appDir": ` + quote(dir) + `, "logLevel": "warn"}`
	if err := os.WriteFile(cfgFile, []byte(js), 0o644); err != nil {
		t.Fatal(err)
	}
	envFile := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envFile, []byte("NAS_MEDIA_LOG_LEVEL=debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("NAS_MEDIA_LOG_LEVEL") })
	t.Setenv("NAS_MEDIA_PORT", "9200")

	cfg, err := Load([]string{"-config", cfgFile, "-env-file", envFile, "-root", rootB}, io.Discard)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	canonB, _ := filepath.EvalSymlinks(rootB)
	if cfg.Root != canonB {
		t.Fatalf("flag should win for root: %q", cfg.Root)
	}
	if cfg.Port != 9200 {
		t.Fatalf("env should beat file for port: %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("env file should beat json for level: %q", cfg.LogLevel)
	}
	if cfg.MaxConns != DefaultMaxConns {
		t.Fatalf("default max conns lost: %d", cfg.MaxConns)
	}
	if cfg.Addr() != ":9200" {
		t.Fatalf("addr=%q", cfg.Addr())
	}
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	root := t.TempDir()
	_, err := Load([]string{"-root", root, "-app-dir", t.TempDir(), "-env-file", filepath.Join(root, "absent.env")}, io.Discard)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `\`, `\\`) + `"`
}
