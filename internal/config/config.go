// Package config loads kittyledger settings from a YAML/TOML file, KITTYLEDGER_*
// environment variables and built-in defaults, in that order of precedence
// (environment wins over the file).
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"kittyledger/internal/core"
	"kittyledger/internal/infra/archive"
	archivecore "kittyledger/internal/infra/archive/core"
	"kittyledger/pkg/domain"
)

// EnvPrefix is prepended to every environment override, e.g. KITTYLEDGER_STAKE_AMOUNT.
const EnvPrefix = "KITTYLEDGER"

// Config keys.
const (
	KeyStakeAmount     = "stake.amount"
	KeyStorageDriver   = "storage.driver"
	KeySQLitePath      = "storage.sqlite_path"
	KeyPostgresDSN     = "storage.postgres_dsn"
	KeyArchiveDriver   = "archive.driver"
	KeyArchiveFSRoot   = "archive.fs_root"
	KeyS3Bucket        = "archive.s3.bucket"
	KeyS3Region        = "archive.s3.region"
	KeyS3Endpoint      = "archive.s3.endpoint"
	KeyS3PathStyle     = "archive.s3.path_style"
	KeyS3AccessKeyID   = "archive.s3.access_key_id"
	KeyS3SecretKey     = "archive.s3.secret_access_key"
	KeyLogLevel        = "log.level"
	KeyLogFormat       = "log.format"
	KeyGenesisBalances = "genesis.balances"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved application configuration.
type Config struct {
	Stake   StakeConfig        `mapstructure:"stake"`
	Storage core.StorageConfig `mapstructure:"storage"`
	Archive archive.Config     `mapstructure:"archive"`
	Log     LogConfig          `mapstructure:"log"`
	Genesis GenesisConfig      `mapstructure:"genesis"`
}

// StakeConfig sets the reservation taken by Create and Breed.
type StakeConfig struct {
	Amount uint64 `mapstructure:"amount"`
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GenesisConfig seeds the balance ledger. Keys are decimal account ids.
type GenesisConfig struct {
	Balances map[string]uint64 `mapstructure:"balances"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyStakeAmount, uint64(core.DefaultStakeAmount))
	v.SetDefault(KeyStorageDriver, string(core.StorageMemory))
	v.SetDefault(KeySQLitePath, "kittyledger.db")
	v.SetDefault(KeyPostgresDSN, "")
	v.SetDefault(KeyArchiveDriver, string(archivecore.DriverMemory))
	v.SetDefault(KeyArchiveFSRoot, "snapshots")
	v.SetDefault(KeyS3Bucket, "")
	v.SetDefault(KeyS3Region, "us-east-1")
	v.SetDefault(KeyS3Endpoint, "")
	v.SetDefault(KeyS3PathStyle, false)
	v.SetDefault(KeyS3AccessKeyID, "")
	v.SetDefault(KeyS3SecretKey, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (when non-empty) and returns the validated configuration.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects a zero stake, unknown drivers and malformed genesis entries.
func (c Config) Validate() error {
	if c.Stake.Amount == 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalid, KeyStakeAmount)
	}
	switch core.StorageDriver(strings.ToLower(string(c.Storage.Driver))) {
	case core.StorageMemory, core.StorageSQLite, core.StoragePostgres:
	default:
		return fmt.Errorf("%w: unknown %s %q", ErrInvalid, KeyStorageDriver, c.Storage.Driver)
	}
	switch archivecore.Driver(strings.ToLower(c.Archive.Driver)) {
	case archivecore.DriverMemory, archivecore.DriverFilesystem:
	case archivecore.DriverS3:
		if c.Archive.S3.Bucket == "" {
			return fmt.Errorf("%w: %s is required for the s3 archive", ErrInvalid, KeyS3Bucket)
		}
	default:
		return fmt.Errorf("%w: unknown %s %q", ErrInvalid, KeyArchiveDriver, c.Archive.Driver)
	}
	if _, err := c.GenesisBalances(); err != nil {
		return err
	}
	return nil
}

// StakeAmount returns the configured stake as a domain balance.
func (c Config) StakeAmount() domain.Balance { return domain.Balance(c.Stake.Amount) }

// GenesisBalances parses the genesis account keys.
func (c Config) GenesisBalances() (map[domain.AccountID]domain.Balance, error) {
	out := make(map[domain.AccountID]domain.Balance, len(c.Genesis.Balances))
	for key, amount := range c.Genesis.Balances {
		id, err := strconv.ParseUint(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: genesis account %q: %v", ErrInvalid, key, err)
		}
		out[domain.AccountID(id)] = domain.Balance(amount)
	}
	return out, nil
}
