package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/siapay/internal/events"
	"github.com/vadiminshakov/siapay/internal/services/issuer"
	"github.com/vadiminshakov/siapay/internal/storage"
	"github.com/vadiminshakov/siapay/internal/storage/walledger"
)

const (
	// EnvAPIPassword overrides api_password.
	EnvAPIPassword = "SIA_API_PASSWORD"
	// EnvDatabaseDSN overrides database_dsn.
	EnvDatabaseDSN = "SIAPAY_DATABASE_DSN"
	// EnvHTTPPasswordHash overrides http_password_hash.
	EnvHTTPPasswordHash = "SIAPAY_HTTP_PASSWORD_HASH"

	DefaultRPCAddress   = "localhost:9980"
	DefaultFloorHeight  = 22100
	DefaultScanInterval = time.Minute
	DefaultHTTPAddr     = "127.0.0.1:8080"
)

// Config is the validated runtime configuration.
type Config struct {
	RPCAddress       string
	APIPassword      string
	FloorHeight      uint64
	ScanInterval     time.Duration
	ProcessAll       bool
	UseWatermark     bool
	Storage          string
	WALDir           string
	DatabaseDSN      string
	ReceivableTTL    time.Duration
	HTTPAddr         string
	HTTPUser         string
	HTTPPasswordHash string
	KafkaBrokers     []string
	KafkaTopic       string
}

// ConfigTmp is the on-disk YAML shape.
type ConfigTmp struct {
	RPCAddress       string        `yaml:"rpc_address"`
	APIPassword      string        `yaml:"api_password,omitempty"`
	FloorHeight      *uint64       `yaml:"floor_height,omitempty"`
	ScanInterval     time.Duration `yaml:"scan_interval,omitempty"`
	ProcessAll       bool          `yaml:"process_all,omitempty"`
	UseWatermark     *bool         `yaml:"use_watermark,omitempty"`
	Storage          string        `yaml:"storage,omitempty"`
	WALDir           string        `yaml:"wal_dir,omitempty"`
	DatabaseDSN      string        `yaml:"database_dsn,omitempty"`
	ReceivableTTL    time.Duration `yaml:"receivable_ttl,omitempty"`
	HTTPAddr         string        `yaml:"http_addr,omitempty"`
	HTTPUser         string        `yaml:"http_user,omitempty"`
	HTTPPasswordHash string        `yaml:"http_password_hash,omitempty"`
	KafkaBrokers     []string      `yaml:"kafka_brokers,omitempty"`
	KafkaTopic       string        `yaml:"kafka_topic,omitempty"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		RPCAddress:    DefaultRPCAddress,
		FloorHeight:   DefaultFloorHeight,
		ScanInterval:  DefaultScanInterval,
		UseWatermark:  true,
		Storage:       storage.KindWAL,
		WALDir:        walledger.DefaultDir,
		ReceivableTTL: issuer.DefaultTTL,
		HTTPAddr:      DefaultHTTPAddr,
		KafkaTopic:    events.DefaultTopic,
	}
}

// Get resolves the configuration from args: a --config YAML file when given,
// command line flags otherwise. Secrets from the environment (and a .env file
// in the working directory) take precedence over both. Arguments left after
// the flags are returned unchanged.
func Get(args []string) (Config, []string, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, nil, errors.Wrap(err, "load .env")
	}

	path, conf, rest, err := getFromCLI(args)
	if err != nil {
		return Config{}, nil, err
	}
	if path != "" {
		conf, err = Load(path)
		if err != nil {
			return Config{}, nil, err
		}
	}

	applyEnv(&conf)
	if err := conf.Validate(); err != nil {
		return Config{}, nil, err
	}

	return conf, rest, nil
}

// Load reads a YAML config file over the defaults. The result is not validated.
func Load(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, fmt.Errorf("incorrect yaml config %s: %w", path, err)
	}

	return fromTmp(tmp), nil
}

func fromTmp(c ConfigTmp) Config {
	conf := Default()
	if c.RPCAddress != "" {
		conf.RPCAddress = c.RPCAddress
	}
	conf.APIPassword = c.APIPassword
	if c.FloorHeight != nil {
		conf.FloorHeight = *c.FloorHeight
	}
	if c.ScanInterval != 0 {
		conf.ScanInterval = c.ScanInterval
	}
	conf.ProcessAll = c.ProcessAll
	if c.UseWatermark != nil {
		conf.UseWatermark = *c.UseWatermark
	}
	if c.Storage != "" {
		conf.Storage = strings.ToLower(c.Storage)
	}
	if c.WALDir != "" {
		conf.WALDir = c.WALDir
	}
	conf.DatabaseDSN = c.DatabaseDSN
	if c.ReceivableTTL != 0 {
		conf.ReceivableTTL = c.ReceivableTTL
	}
	if c.HTTPAddr != "" {
		conf.HTTPAddr = c.HTTPAddr
	}
	conf.HTTPUser = c.HTTPUser
	conf.HTTPPasswordHash = c.HTTPPasswordHash
	conf.KafkaBrokers = c.KafkaBrokers
	if c.KafkaTopic != "" {
		conf.KafkaTopic = c.KafkaTopic
	}

	return conf
}

// ToTmp converts conf back to its YAML shape.
func (c Config) ToTmp() ConfigTmp {
	floor := c.FloorHeight
	watermark := c.UseWatermark
	return ConfigTmp{
		RPCAddress:       c.RPCAddress,
		APIPassword:      c.APIPassword,
		FloorHeight:      &floor,
		ScanInterval:     c.ScanInterval,
		ProcessAll:       c.ProcessAll,
		UseWatermark:     &watermark,
		Storage:          c.Storage,
		WALDir:           c.WALDir,
		DatabaseDSN:      c.DatabaseDSN,
		ReceivableTTL:    c.ReceivableTTL,
		HTTPAddr:         c.HTTPAddr,
		HTTPUser:         c.HTTPUser,
		HTTPPasswordHash: c.HTTPPasswordHash,
		KafkaBrokers:     c.KafkaBrokers,
		KafkaTopic:       c.KafkaTopic,
	}
}

// Save writes conf as YAML. The file is readable by the owner only.
func Save(path string, conf Config) error {
	data, err := yaml.Marshal(conf.ToTmp())
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func applyEnv(c *Config) {
	if v := os.Getenv(EnvAPIPassword); v != "" {
		c.APIPassword = v
	}
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		c.DatabaseDSN = v
	}
	if v := os.Getenv(EnvHTTPPasswordHash); v != "" {
		c.HTTPPasswordHash = v
	}
}

// Validate rejects settings the daemon cannot start with.
func (c Config) Validate() error {
	if err := validateHostPort(c.RPCAddress); err != nil {
		return fmt.Errorf("incorrect 'rpc_address' param %q: %w", c.RPCAddress, err)
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("incorrect 'scan_interval' param %s: must be positive", c.ScanInterval)
	}
	if c.ReceivableTTL <= 0 {
		return fmt.Errorf("incorrect 'receivable_ttl' param %s: must be positive", c.ReceivableTTL)
	}

	switch c.Storage {
	case storage.KindWAL:
		if c.WALDir == "" {
			return errors.New("'wal_dir' is required for wal storage")
		}
	case storage.KindPostgres, storage.KindSQLite:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("'database_dsn' (or %s) is required for %s storage", EnvDatabaseDSN, c.Storage)
		}
	default:
		return fmt.Errorf("incorrect 'storage' param %q: expected wal, postgres or sqlite", c.Storage)
	}

	if c.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
			return fmt.Errorf("incorrect 'http_addr' param %q: %w", c.HTTPAddr, err)
		}
	}
	if c.HTTPPasswordHash != "" && c.HTTPUser == "" {
		return errors.New("'http_user' is required when 'http_password_hash' is set")
	}

	for _, b := range c.KafkaBrokers {
		if err := validateHostPort(b); err != nil {
			return fmt.Errorf("incorrect 'kafka_brokers' entry %q: %w", b, err)
		}
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("'kafka_topic' is required when kafka brokers are set")
	}

	return nil
}

// validateHostPort accepts host:port with an optional http(s) scheme.
func validateHostPort(addr string) error {
	addr = strings.TrimPrefix(strings.TrimPrefix(addr, "http://"), "https://")
	addr = strings.TrimSuffix(addr, "/")
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" || port == "" {
		return errors.New("host and port are required")
	}
	return nil
}
