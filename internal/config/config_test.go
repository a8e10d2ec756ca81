package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cfg "github.com/stagehand-ops/stagehand/internal/config"
)

// isolate points the user config dir at a temp dir and runs from another
// temp dir so no stray stagehand.yaml is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg"))
	t.Setenv("HOME", filepath.Join(tmp, "home"))
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	work := filepath.Join(tmp, "work")
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Chdir(work); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return tmp
}

func TestLoadConfig_DefaultsWhenNoFile(t *testing.T) {
	isolate(t)

	c, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	var nf viper.ConfigFileNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected ConfigFileNotFoundError, got %T %v", err, err)
	}
	if c.Cloud.Zone != "europe-west1-b" {
		t.Fatalf("expected default zone, got %q", c.Cloud.Zone)
	}
	if c.Cloud.DiskSizeGB != 20 {
		t.Fatalf("expected default disk size 20, got %d", c.Cloud.DiskSizeGB)
	}
	if len(c.Backup.Paths) == 0 {
		t.Fatalf("expected default backup paths")
	}
	if c.Database.Type != "sqlite" {
		t.Fatalf("expected sqlite default, got %q", c.Database.Type)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	tmp := isolate(t)

	path := filepath.Join(tmp, "custom.yaml")
	content := "cloud:\n  zone: us-central1-a\n  machine_type: e2-medium\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("STAGEHAND_CLOUD_MACHINE_TYPE", "n2-standard-2")

	c, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.Cloud.Zone != "us-central1-a" {
		t.Fatalf("expected zone from file, got %q", c.Cloud.Zone)
	}
	if c.Cloud.MachineType != "n2-standard-2" {
		t.Fatalf("expected machine type from env, got %q", c.Cloud.MachineType)
	}
}

func TestLoadConfig_CloudSDKProjectAlias(t *testing.T) {
	isolate(t)
	t.Setenv("CLOUDSDK_CORE_PROJECT", "my-project")

	c, _ := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	if c.Cloud.Project != "my-project" {
		t.Fatalf("expected project from CLOUDSDK_CORE_PROJECT, got %q", c.Cloud.Project)
	}
}

func TestLoadConfig_AnnotatedFlagWins(t *testing.T) {
	isolate(t)
	t.Setenv("STAGEHAND_CLOUD_ZONE", "asia-east1-a")

	cmd := &cobra.Command{Use: "x", Run: func(*cobra.Command, []string) {}}
	cmd.Flags().String("zone", "", "zone")
	cmd.Flags().Bool("dry-run", false, "not a config key")
	cfg.BindFlag(cmd, "zone", "cloud.zone")
	if err := cmd.Flags().Parse([]string{"--zone", "europe-north1-c"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	c, _ := cfg.LoadConfig[cfg.Config](cmd, cfg.Defaults(), nil)
	if c.Cloud.Zone != "europe-north1-c" {
		t.Fatalf("expected flag value, got %q", c.Cloud.Zone)
	}
}

func TestLoadConfig_UnchangedFlagDoesNotMaskEnv(t *testing.T) {
	isolate(t)
	t.Setenv("STAGEHAND_CLOUD_ZONE", "asia-east1-a")

	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().String("zone", "", "zone")
	cfg.BindFlag(cmd, "zone", "cloud.zone")

	c, _ := cfg.LoadConfig[cfg.Config](cmd, cfg.Defaults(), nil)
	if c.Cloud.Zone != "asia-east1-a" {
		t.Fatalf("expected env value, got %q", c.Cloud.Zone)
	}
}

func TestWriteConfigFileTo_RoundTrip(t *testing.T) {
	tmp := isolate(t)

	c := cfg.Config{}
	c.Cloud.Zone = "us-east1-b"
	c.Database.Type = "sqlite"
	c.Database.Dsn = "./x.db"
	path := filepath.Join(tmp, "out", "stagehand.yaml")
	if err := cfg.WriteConfigFileTo(&c, path); err != nil {
		t.Fatalf("WriteConfigFileTo: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}

	got, err := cfg.LoadConfig[cfg.Config](nil, cfg.Defaults(), &path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Cloud.Zone != "us-east1-b" || got.Database.Dsn != "./x.db" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestWriteConfigFile_UserLocation(t *testing.T) {
	isolate(t)

	c := cfg.Config{Language: "de"}
	path, err := cfg.WriteConfigFile(&c, false)
	if err != nil {
		t.Fatalf("WriteConfigFile: %v", err)
	}
	if filepath.Base(path) != "stagehand.yaml" {
		t.Fatalf("unexpected path %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file: %v", err)
	}
}
