package configuration

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeremywohl/flatten"
	"github.com/metal-toolbox/romxfer/internal/model"
	"github.com/metal-toolbox/romxfer/internal/remote"
	"github.com/mitchellh/copystructure"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var (
	defaultListenAddress   = "localhost:8002"
	defaultMetricsAddress  = "localhost:9090"
	defaultProfileAddress  = "localhost:9091"
	defaultShutdownTimeout = 10 * time.Second

	defaultUserAgent       = "Mozilla/5.0 (ROM Downloader)"
	defaultDownloadTimeout = 5 * time.Minute

	defaultConnectTimeout    = 10 * time.Second
	defaultCopyTimeout       = 30 * time.Second
	defaultFallbackPasswords = []string{"root", "", "admin"}
)

// DownloadConfig holds the remote ROM fetch parameters.
type DownloadConfig struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
	TempDir   string        `mapstructure:"temp_dir"`
}

// DeliveryConfig holds the device transfer parameters.
type DeliveryConfig struct {
	// Transport is one of ssh, sshpass, dryrun.
	Transport string `mapstructure:"transport"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CopyTimeout    time.Duration `mapstructure:"copy_timeout"`

	// CredentialFallback enables trying FallbackPasswords after the supplied one fails.
	CredentialFallback bool     `mapstructure:"credential_fallback"`
	FallbackPasswords  []string `mapstructure:"fallback_passwords"`

	// KnownHostsFile enables host key verification when set.
	// Devices are headless and reached over a trusted LAN, so this is empty by default.
	KnownHostsFile string `mapstructure:"known_hosts_file"`

	// DryRunPasswords are the passwords the simulated device accepts.
	DryRunPasswords []string `mapstructure:"dryrun_passwords"`
}

// HostDefaults are applied to request host configs that omit a field.
type HostDefaults struct {
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	RemoteBasePath string `mapstructure:"remote_base_path"`
	Port           int    `mapstructure:"port"`
}

// Configuration holds application configuration read from a YAML or set by env variables.
// nolint:govet // prefer readability over field alignment optimization for this case.
type Configuration struct {
	// LogLevel is the app verbose logging level.
	// one of - info, debug, trace
	LogLevel string `mapstructure:"log_level"`

	// ListenAddress is the address the transfer service listens on.
	ListenAddress string `mapstructure:"listen_address"`

	// MetricsAddress is the address the prometheus endpoint listens on, empty disables it.
	MetricsAddress string `mapstructure:"metrics_address"`

	ProfilingAddress string `mapstructure:"profiling_address"`

	// MaxConnections caps concurrently accepted connections, 0 is unlimited.
	MaxConnections int `mapstructure:"max_connections"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// DownloadsDir is where /check-file looks for already downloaded ROMs.
	DownloadsDir string `mapstructure:"downloads_dir"`

	// UIDir optionally serves the catalog web UI.
	UIDir string `mapstructure:"ui_dir"`

	Download *DownloadConfig `mapstructure:"download"`
	Delivery *DeliveryConfig `mapstructure:"delivery"`
	Defaults *HostDefaults   `mapstructure:"defaults"`

	EnableProfiling bool `mapstructure:"enable_profiling"`
}

// New creates a configuration struct populated with defaults.
func New() *Configuration {
	return &Configuration{
		LogLevel:         "info",
		ListenAddress:    defaultListenAddress,
		MetricsAddress:   defaultMetricsAddress,
		ProfilingAddress: defaultProfileAddress,
		ShutdownTimeout:  defaultShutdownTimeout,
		DownloadsDir:     defaultDownloadsDir(),
		Download: &DownloadConfig{
			UserAgent: defaultUserAgent,
			Timeout:   defaultDownloadTimeout,
		},
		Delivery: &DeliveryConfig{
			Transport:          remote.SSHStr,
			ConnectTimeout:     defaultConnectTimeout,
			CopyTimeout:        defaultCopyTimeout,
			CredentialFallback: true,
			FallbackPasswords:  append([]string{}, defaultFallbackPasswords...),
			DryRunPasswords:    []string{"muos"},
		},
		Defaults: &HostDefaults{
			Username:       "root",
			Password:       "muos",
			RemoteBasePath: "/mnt/mmc/ROMS",
			Port:           22,
		},
	}
}

func defaultDownloadsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "Downloads"
	}

	return filepath.Join(home, "Downloads")
}

func (c *Configuration) AsLogFields() []any {
	return []any{
		"logLevel", c.LogLevel,
		"listenAddress", c.ListenAddress,
		"metricsAddress", c.MetricsAddress,
		"maxConnections", c.MaxConnections,
		"downloadsDir", c.DownloadsDir,
		"uiDir", c.UIDir,
		"transport", c.Delivery.Transport,
		"credentialFallback", c.Delivery.CredentialFallback,
		"hostKeyVerification", c.Delivery.KnownHostsFile != "",
		"downloadRetries", c.Download.Retries,
		"enableProfiling", c.EnableProfiling,
	}
}

func (c *Configuration) LoadArgs(args *model.Args) {
	if args.LogLevel != "" {
		c.LogLevel = args.LogLevel
	}

	if args.EnableProfiling {
		c.EnableProfiling = true
	}
}

// HostDefaults returns a copy of the host defaults that callers may modify freely.
func (c *Configuration) HostDefaults() (*HostDefaults, error) {
	cp, err := copystructure.Copy(c.Defaults)
	if err != nil {
		return nil, errors.Wrap(model.ErrConfig, "copy host defaults: "+err.Error())
	}

	return cp.(*HostDefaults), nil
}

// FallbackPasswords returns a copy of the configured fallback list.
func (c *Configuration) FallbackPasswords() []string {
	if !c.Delivery.CredentialFallback {
		return nil
	}

	cp, err := copystructure.Copy(c.Delivery.FallbackPasswords)
	if err != nil {
		return append([]string{}, c.Delivery.FallbackPasswords...)
	}

	return cp.([]string)
}

// Load the application configuration
// Reads in the configFile when available and overrides from environment variables.
func Load(args *model.Args) (*Configuration, error) {
	viperConfig := viper.New()
	viperConfig.SetConfigType("yaml")
	viperConfig.SetEnvPrefix(model.AppName)
	viperConfig.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperConfig.AutomaticEnv()

	if args.ConfigFile != "" {
		fh, err := os.Open(args.ConfigFile)
		if err != nil {
			return nil, errors.Wrap(model.ErrConfig, err.Error())
		}
		defer fh.Close()

		if err = viperConfig.ReadConfig(fh); err != nil {
			return nil, errors.Wrap(model.ErrConfig, "ReadConfig error: "+err.Error())
		}
	}

	config := New()

	if err := config.envBindVars(viperConfig); err != nil {
		return nil, errors.Wrap(model.ErrConfig, "env var bind error: "+err.Error())
	}

	if err := viperConfig.Unmarshal(config); err != nil {
		return nil, errors.Wrap(model.ErrConfig, "Unmarshal error: "+err.Error())
	}

	config.LoadArgs(args)

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// envBindVars binds environment variables to the struct
// without a configuration file being unmarshalled,
// this is a workaround for a viper bug,
//
// This can be replaced by the solution in https://github.com/spf13/viper/pull/1429
// once that PR is merged.
func (c *Configuration) envBindVars(viperConfig *viper.Viper) error {
	envKeysMap := map[string]interface{}{}
	if err := mapstructure.Decode(c, &envKeysMap); err != nil {
		return err
	}

	// Flatten nested conf map
	flat, err := flatten.Flatten(envKeysMap, "", flatten.DotStyle)
	if err != nil {
		return errors.Wrap(err, "Unable to flatten configuration")
	}

	for k := range flat {
		if err := viperConfig.BindEnv(k); err != nil {
			return errors.Wrap(model.ErrConfig, "env var bind error: "+err.Error())
		}
	}

	return nil
}

// nolint:gocyclo // parameter validation is cyclomatic
func (c *Configuration) validate() error {
	if c.ListenAddress == "" {
		return errors.Wrap(model.ErrConfig, "listen_address not defined")
	}

	if _, err := remote.FromString(c.Delivery.Transport); err != nil {
		return errors.Wrap(model.ErrConfig, "delivery.transport: "+err.Error())
	}

	if c.Delivery.ConnectTimeout <= 0 {
		c.Delivery.ConnectTimeout = defaultConnectTimeout
	}

	if c.Delivery.CopyTimeout <= 0 {
		c.Delivery.CopyTimeout = defaultCopyTimeout
	}

	if c.Download.Timeout <= 0 {
		c.Download.Timeout = defaultDownloadTimeout
	}

	if c.Download.Retries < 0 {
		return errors.Wrap(model.ErrConfig, "download.retries must not be negative")
	}

	if c.Download.UserAgent == "" {
		c.Download.UserAgent = defaultUserAgent
	}

	if c.Defaults.Port <= 0 || c.Defaults.Port > 65535 {
		return errors.Wrap(model.ErrConfig, "defaults.port out of range")
	}

	if !strings.HasPrefix(c.Defaults.RemoteBasePath, "/") {
		return errors.Wrap(model.ErrConfig, "defaults.remote_base_path must be absolute")
	}

	if c.Delivery.KnownHostsFile != "" {
		if _, err := os.Stat(c.Delivery.KnownHostsFile); err != nil {
			return errors.Wrap(model.ErrConfig, "known_hosts_file: "+err.Error())
		}
	}

	if c.MaxConnections < 0 {
		return errors.Wrap(model.ErrConfig, "max_connections must not be negative")
	}

	if c.UIDir != "" {
		info, err := os.Stat(c.UIDir)
		if err != nil {
			return errors.Wrap(model.ErrConfig, "ui_dir: "+err.Error())
		}

		if !info.IsDir() {
			return errors.Wrap(model.ErrConfig, "ui_dir is not a directory")
		}
	}

	return nil
}
