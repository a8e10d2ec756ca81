// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads Stagehand settings from flags, environment variables
// and YAML files through viper, and writes them back with go-yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable viper looks at.
const EnvPrefix = "stagehand"

// Config is the complete, file-serializable Stagehand configuration.
type Config struct {
	Cloud     CloudConfig     `mapstructure:"cloud" yaml:"cloud"`
	App       AppConfig       `mapstructure:"app" yaml:"app"`
	SSH       SSHConfig       `mapstructure:"ssh" yaml:"ssh"`
	StateDir  string          `mapstructure:"state_dir" yaml:"state_dir"`
	Backup    BackupConfig    `mapstructure:"backup" yaml:"backup"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
	Language  string          `mapstructure:"language" yaml:"language"`
}

// CloudConfig holds the compute defaults passed to gcloud.
type CloudConfig struct {
	Project      string   `mapstructure:"project" yaml:"project"`
	Zone         string   `mapstructure:"zone" yaml:"zone"`
	MachineType  string   `mapstructure:"machine_type" yaml:"machine_type"`
	DiskSizeGB   int      `mapstructure:"disk_size_gb" yaml:"disk_size_gb"`
	DiskType     string   `mapstructure:"disk_type" yaml:"disk_type"`
	ImageFamily  string   `mapstructure:"image_family" yaml:"image_family"`
	ImageProject string   `mapstructure:"image_project" yaml:"image_project"`
	NetworkTags  []string `mapstructure:"network_tags" yaml:"network_tags"`
}

// AppConfig describes what gets installed on the instance.
type AppConfig struct {
	InstallMode string `mapstructure:"install_mode" yaml:"install_mode"`
	Playbook    string `mapstructure:"playbook" yaml:"playbook"`
	Version     string `mapstructure:"version" yaml:"version"`
}

// SSHConfig is used by the inventory generator and by backup/restore.
type SSHConfig struct {
	User       string `mapstructure:"user" yaml:"user"`
	KeyPath    string `mapstructure:"key_path" yaml:"key_path"`
	KnownHosts string `mapstructure:"known_hosts" yaml:"known_hosts"`
	Port       int    `mapstructure:"port" yaml:"port"`
	Sudo       bool   `mapstructure:"sudo" yaml:"sudo"`
}

// BackupConfig controls archive creation.
type BackupConfig struct {
	Dir            string   `mapstructure:"dir" yaml:"dir"`
	Paths          []string `mapstructure:"paths" yaml:"paths"`
	Compression    string   `mapstructure:"compression" yaml:"compression"`
	Encrypt        bool     `mapstructure:"encrypt" yaml:"encrypt"`
	PassphraseFile string   `mapstructure:"passphrase_file" yaml:"passphrase_file"`
}

// DatabaseConfig selects the record store backend used by the dashboard.
type DatabaseConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

// DashboardConfig configures the web dashboard.
type DashboardConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// Defaults returns the baseline values used when neither a file, the
// environment nor a flag provides one.
func Defaults() map[string]any {
	home, _ := os.UserHomeDir()
	return map[string]any{
		"cloud.project":       "",
		"cloud.zone":          "europe-west1-b",
		"cloud.machine_type":  "e2-small",
		"cloud.disk_size_gb":  20,
		"cloud.disk_type":     "pd-balanced",
		"cloud.image_family":  "debian-12",
		"cloud.image_project": "debian-cloud",
		"cloud.network_tags":  []string{"stagehand"},
		"app.install_mode":    "release",
		"app.playbook":        "ansible/site.yml",
		"app.version":         "latest",
		"ssh.user":            defaultSSHUser(),
		"ssh.key_path":        filepath.Join(home, ".ssh", "google_compute_engine"),
		"ssh.known_hosts":     filepath.Join(home, ".ssh", "google_compute_known_hosts"),
		"ssh.port":            22,
		"ssh.sudo":            true,
		"state_dir":           ".stagehand",
		"backup.dir":          "backups",
		"backup.paths":        []string{"/opt/app/data", "/opt/app/config", "/etc/app"},
		"backup.compression":  "gzip",
		"backup.encrypt":      false,
		"database.type":       "sqlite",
		"database.dsn":        "./stagehand.db",
		"dashboard.listen":    "127.0.0.1:8080",
		"language":            "en",
	}
}

// envAliases maps config keys to additional environment variables that the
// Cloud SDK itself honours.
var envAliases = map[string][]string{
	"cloud.project": {"CLOUDSDK_CORE_PROJECT"},
	"cloud.zone":    {"CLOUDSDK_COMPUTE_ZONE"},
}

func defaultSSHUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "stagehand"
}

// getConfigPath returns the full path for the configuration file.
func getConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Stagehand")
		default:
			configDir = "/etc/stagehand"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "stagehand")
	}

	return filepath.Join(configDir, "stagehand.yaml"), nil
}

// LoadConfig resolves T from defaults, the first stagehand.yaml found, the
// environment and the flags of cmd, in increasing order of precedence.
// A missing config file is reported as viper.ConfigFileNotFoundError next to
// a fully populated T so callers can decide whether to write one.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, explicitPath *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("stagehand")
	v.SetConfigType("yaml")
	if explicitPath != nil {
		v.SetConfigFile(*explicitPath)
	}
	if userConfigPath, err := getConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := getConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	var notFound error
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return c, err
		}
		notFound = err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		args := append([]string{key, strings.ToUpper(EnvPrefix + "_" + strings.ReplaceAll(key, ".", "_"))}, aliases...)
		if err := v.BindEnv(args...); err != nil {
			return c, err
		}
	}

	if cmd != nil {
		if err := bindFlags(v, cmd); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, notFound
}

// FlagAnnotation marks a cobra flag as the source of a config key.
const FlagAnnotation = "stagehand_config_key"

// BindFlag ties the flag called name on cmd to the config key.
func BindFlag(cmd *cobra.Command, name, key string) {
	_ = cmd.Flags().SetAnnotation(name, FlagAnnotation, []string{key})
}

// bindFlags binds every annotated flag to its config key. Flags without
// the annotation (--dry-run and friends) never reach the configuration.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	var bindErr error
	visit := func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		keys := f.Annotations[FlagAnnotation]
		if len(keys) == 0 {
			return
		}
		bindErr = v.BindPFlag(keys[0], f)
	}
	cmd.Flags().VisitAll(visit)
	cmd.InheritedFlags().VisitAll(visit)
	return bindErr
}

// WriteConfigFile stores c as YAML in the user (or system) config location.
func WriteConfigFile[T any](c *T, system bool) (string, error) {
	path, err := getConfigPath(system)
	if err != nil {
		return "", err
	}
	return path, WriteConfigFileTo(c, path)
}

// WriteConfigFileTo stores c as YAML at path. The file may carry secrets,
// hence 0600.
func WriteConfigFileTo[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}
	return os.WriteFile(path, data, 0o600)
}
