package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Product is the fixed product name used for contexts, volume names and the
// helper image.
const Product = "rdock"

// Config represents the rdock configuration, loaded from
// ~/.rdock/config.yaml with defaults for every key.
type Config struct {
	SSH       SSH       `mapstructure:"ssh"`
	Engine    Engine    `mapstructure:"engine"`
	Workload  Workload  `mapstructure:"workload"`
	Resources Resources `mapstructure:"resources"`
}

// SSH holds key material locations and connection settings for the remote
// transport and the in-container git client.
type SSH struct {
	IdentityFile   string `mapstructure:"identity_file"`
	PublicKeyFile  string `mapstructure:"public_key_file"`
	KnownHostsFile string `mapstructure:"known_hosts_file"`
	GitHost        string `mapstructure:"git_host"`
	ConnectTimeout string `mapstructure:"connect_timeout"`
}

// Engine holds container engine addressing and polling settings.
type Engine struct {
	LocalSocket  string `mapstructure:"local_socket"`
	WaitAttempts int    `mapstructure:"wait_attempts"`
	HelperImage  string `mapstructure:"helper_image"`
	MetadataDir  string `mapstructure:"metadata_dir"`
}

// Workload holds workload layout conventions inside the repository.
type Workload struct {
	LocalPort    int    `mapstructure:"local_port"`
	BuildDir     string `mapstructure:"build_dir"`
	ManifestFile string `mapstructure:"manifest_file"`
}

// Resources holds the compute limits applied when a remote session requests
// high-compute mode. Normal runs get no explicit limits.
type Resources struct {
	HighComputeCPUs   int    `mapstructure:"high_compute_cpus"`
	HighComputeMemory string `mapstructure:"high_compute_memory"`
}

// ConnectTimeoutDuration parses the configured connect timeout, falling
// back to 15s on any invalid value.
func (s *SSH) ConnectTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(s.ConnectTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// Load reads ~/.rdock/config.yaml or returns defaults when absent.
func Load() (*Config, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(home, "."+Product))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found, use defaults.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.SSH.IdentityFile = expandPath(cfg.SSH.IdentityFile)
	cfg.SSH.PublicKeyFile = expandPath(cfg.SSH.PublicKeyFile)
	cfg.SSH.KnownHostsFile = expandPath(cfg.SSH.KnownHostsFile)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ssh.identity_file", "~/.ssh/id_ed25519")
	v.SetDefault("ssh.public_key_file", "~/.ssh/id_ed25519.pub")
	v.SetDefault("ssh.known_hosts_file", "~/.ssh/known_hosts")
	v.SetDefault("ssh.git_host", "github.com")
	v.SetDefault("ssh.connect_timeout", "15s")

	v.SetDefault("engine.local_socket", "unix:///var/run/docker.sock")
	v.SetDefault("engine.wait_attempts", 30)
	v.SetDefault("engine.helper_image", Product+"-rsync")
	v.SetDefault("engine.metadata_dir", "/tmp/"+Product)

	v.SetDefault("workload.local_port", 8787)
	v.SetDefault("workload.build_dir", "docker")
	v.SetDefault("workload.manifest_file", Product+".yaml")

	v.SetDefault("resources.high_compute_cpus", 16)
	v.SetDefault("resources.high_compute_memory", "64g")
}

// expandPath expands ~ in a path, returning the input unchanged on failure.
func expandPath(path string) string {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}

// ConfigDir returns the rdock configuration directory path.
func ConfigDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "."+Product), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return nil
}
