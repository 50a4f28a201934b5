package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds everything the server reads from flags, the environment or a
// config file. Keys use dashes; the matching environment variable is the
// upper-cased key with underscores, e.g. mongodb-url -> MONGODB_URL.
type Config struct {
	Addr          string `mapstructure:"addr"`
	MongoDBURL    string `mapstructure:"mongodb-url"`
	Database      string `mapstructure:"database"`
	Collection    string `mapstructure:"collection"`
	Bucket        string `mapstructure:"bucket"`
	LogLevel      string `mapstructure:"log-level"`
	MaxUploadSize int64  `mapstructure:"max-upload-size"`
	InfoCacheSize int    `mapstructure:"info-cache-size"`
	OTLPEndpoint  string `mapstructure:"otlp-endpoint"`
}

func DefaultConfig() Config {
	return Config{
		Addr:          ":8000",
		Database:      "with-baby-store",
		Collection:    "files",
		Bucket:        "fs",
		LogLevel:      "info",
		MaxUploadSize: 64 << 20,
		InfoCacheSize: 1024,
	}
}

// RegisterFlags declares one flag per config key, defaulting to DefaultConfig.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.String("addr", d.Addr, "address the HTTP server listens on")
	fs.String("mongodb-url", d.MongoDBURL, "MongoDB connection string")
	fs.String("database", d.Database, "database holding files and metadata")
	fs.String("collection", d.Collection, "collection holding metadata records")
	fs.String("bucket", d.Bucket, "GridFS bucket name holding file content")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.Int64("max-upload-size", d.MaxUploadSize, "maximum upload request body in bytes")
	fs.Int("info-cache-size", d.InfoCacheSize, "number of metadata records cached in memory, 0 disables the cache")
	fs.String("otlp-endpoint", d.OTLPEndpoint, "OTLP gRPC endpoint for traces, empty disables export")
}

// NewViper returns a viper instance bound to fs and to the environment. When
// configFile is not empty it is read as well; its format follows the file
// extension (.yaml, .json, .toml, ...).
func NewViper(fs *pflag.FlagSet, configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}
	return v, nil
}

func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.MongoDBURL == "" {
		errs = append(errs, errors.New("mongodb-url is required"))
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("max-upload-size must be positive"))
	}
	if c.InfoCacheSize < 0 {
		errs = append(errs, errors.New("info-cache-size must not be negative"))
	}
	return errors.Join(errs...)
}
