package deployconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"incubant/go-deployer/internal/stacks"

	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvNetwork         = "STACKS_NETWORK"
	EnvNodeURL         = "STACKS_RPC_URL"
	EnvFee             = "DEPLOYER_FEE"
	EnvInterval        = "DEPLOY_INTERVAL"
	EnvContractsDir    = "CONTRACTS_DIR"
	EnvRecordPath      = "DEPLOYMENT_RECORD"
	EnvSecret          = "DEPLOYER_SECRET_KEY"
	defaultDotEnvFile  = ".env"
	defaultInterval    = 3 * time.Second
	defaultTimeout     = 30 * time.Second
	defaultRecordPath  = "deployment.json"
	defaultContractDir = "contracts"
)

var ErrInvalidConfig = errors.New("invalid deploy configuration")

// DefaultContracts is the deployment order of the platform contracts.
var DefaultContracts = []string{
	"incubation",
	"token-stream",
	"equity-token",
	"governance",
	"mentorship",
	"staking",
}

type Config struct {
	Network            string
	NodeURL            string
	ContractsDir       string
	Contracts          []string
	SubmissionInterval time.Duration
	// Fee of zero selects the network default.
	Fee             uint64
	RecordPath      string
	HistoryDB       string
	MetricsTextfile string
	RequestTimeout  time.Duration
}

type FileConfig struct {
	Deploy FileDeployConfig `yaml:"deploy"`
}

type FileDeployConfig struct {
	Network            string         `yaml:"network"`
	NodeURL            string         `yaml:"nodeUrl"`
	ContractsDir       string         `yaml:"contractsDir"`
	Contracts          []string       `yaml:"contracts"`
	SubmissionInterval *time.Duration `yaml:"submissionInterval"`
	Fee                *uint64        `yaml:"fee"`
	RecordPath         string         `yaml:"recordPath"`
	HistoryDB          string         `yaml:"historyDb"`
	MetricsTextfile    string         `yaml:"metricsTextfile"`
	RequestTimeout     time.Duration  `yaml:"requestTimeout"`
}

func Defaults() Config {
	return Config{
		Network:            stacks.NetworkDevnet,
		ContractsDir:       defaultContractDir,
		Contracts:          append([]string(nil), DefaultContracts...),
		SubmissionInterval: defaultInterval,
		RecordPath:         defaultRecordPath,
		RequestTimeout:     defaultTimeout,
	}
}

// LoadFromPath layers defaults, the first readable config file and the
// environment. An explicit path must exist; the fallback candidates may not.
// It returns the file that was used, if any.
func LoadFromPath(configPath string) (Config, string, error) {
	cfg := Defaults()

	candidates := []string{"deploy.yaml", "configs/deploy.yaml"}
	if configPath != "" {
		candidates = []string{configPath}
	}

	used := ""
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if configPath != "" {
				return Config{}, "", fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
			}
			continue
		}
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, "", fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
		}
		Merge(&cfg, parsed.Deploy)
		used = path
		break
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, used, err
	}
	return cfg, used, nil
}

func Merge(dst *Config, src FileDeployConfig) {
	if src.Network != "" {
		dst.Network = src.Network
	}
	if src.NodeURL != "" {
		dst.NodeURL = src.NodeURL
	}
	if src.ContractsDir != "" {
		dst.ContractsDir = src.ContractsDir
	}
	if src.Contracts != nil {
		dst.Contracts = append([]string(nil), src.Contracts...)
	}
	if src.SubmissionInterval != nil {
		dst.SubmissionInterval = *src.SubmissionInterval
	}
	if src.Fee != nil {
		dst.Fee = *src.Fee
	}
	if src.RecordPath != "" {
		dst.RecordPath = src.RecordPath
	}
	if src.HistoryDB != "" {
		dst.HistoryDB = src.HistoryDB
	}
	if src.MetricsTextfile != "" {
		dst.MetricsTextfile = src.MetricsTextfile
	}
	if src.RequestTimeout != 0 {
		dst.RequestTimeout = src.RequestTimeout
	}
}

// LoadDotEnv reads path (default .env) into the process environment without
// replacing variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) (bool, error) {
	if path == "" {
		path = defaultDotEnvFile
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := gotenv.Load(path); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return true, nil
}

func ApplyEnvOverrides(cfg *Config) error {
	if v := env(EnvNetwork); v != "" {
		cfg.Network = v
	}
	if v := env(EnvNodeURL); v != "" {
		cfg.NodeURL = v
	}
	if v := env(EnvContractsDir); v != "" {
		cfg.ContractsDir = v
	}
	if v := env(EnvRecordPath); v != "" {
		cfg.RecordPath = v
	}
	if v := env(EnvFee); v != "" {
		fee, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, EnvFee, v)
		}
		cfg.Fee = fee
	}
	if v := env(EnvInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, EnvInterval, v)
		}
		cfg.SubmissionInterval = d
	}
	return nil
}

// SecretFromEnv returns the deployer secret from the environment, if set.
func SecretFromEnv() string {
	return env(EnvSecret)
}

// Validate normalises the network name and checks ranges.
func (c *Config) Validate() error {
	name, err := stacks.ParseNetworkName(c.Network)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.Network = name
	if len(c.Contracts) == 0 {
		return fmt.Errorf("%w: no contracts configured", ErrInvalidConfig)
	}
	for _, contract := range c.Contracts {
		if err := stacks.ValidateContractName(strings.TrimSpace(contract)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if c.SubmissionInterval < 0 {
		return fmt.Errorf("%w: submission interval must not be negative", ErrInvalidConfig)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request timeout must be positive", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.RecordPath) == "" {
		return fmt.Errorf("%w: record path is required", ErrInvalidConfig)
	}
	return nil
}

// ResolveNetwork resolves the configured network and node URL.
func (c Config) ResolveNetwork() (stacks.Network, error) {
	return stacks.NetworkFor(c.Network, c.NodeURL)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
