package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/webitel/report-orchestrator/internal/errors"
)

const configFileEnv = "REPORTS_CONFIG_FILE"

type AppConfig struct {
	File     string          `json:"-"`
	LogLevel string          `json:"logLevel"`
	Consul   *ConsulConfig   `json:"consul,omitempty"`
	Redis    *RedisConfig    `json:"redis,omitempty"`
	Database *DatabaseConfig `json:"database,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Session  *SessionConfig  `json:"session,omitempty"`
	Links    *LinkConfig     `json:"links,omitempty"`
	Smtp     *SmtpConfig     `json:"smtp,omitempty"`
	Worker   *WorkerConfig   `json:"worker,omitempty"`
}

// ConsulConfig holds the listen address and, when Address is set, the registration target.
type ConsulConfig struct {
	Id            string `json:"id"`
	Address       string `json:"address"`
	PublicAddress string `json:"publicAddress"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type DatabaseConfig struct {
	Driver  string `json:"driver"`
	Url     string `json:"url"`
	Migrate bool   `json:"migrate"`
}

type StorageConfig struct {
	Endpoint  string `json:"endpoint"`
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
	PathStyle bool   `json:"pathStyle"`
}

type SessionConfig struct {
	InactivityLogout time.Duration `json:"inactivityLogout"`
}

type LinkConfig struct {
	ReportTTL time.Duration `json:"reportTTL"`
	BatchTTL  time.Duration `json:"batchTTL"`
	Attempts  int           `json:"attempts"`
	Delay     time.Duration `json:"delay"`
}

type SmtpConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

type WorkerConfig struct {
	Workers int `json:"workers"`
}

// LoadConfig reads flags from args, then env, then the optional JSON file.
func LoadConfig(args []string) (*AppConfig, error) {
	v := viper.New()
	if err := bindFlagsAndEnv(v, args); err != nil {
		return nil, err
	}

	configFile := getConfigFilePath(v)
	if configFile != "" {
		if err := loadFromFile(v, configFile); err != nil {
			return nil, err
		}
	}

	cfg := buildAppConfig(v, configFile)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func bindFlagsAndEnv(v *viper.Viper, args []string) error {
	fs := pflag.NewFlagSet("report-orchestrator", pflag.ContinueOnError)
	fs.String("config_file", "", "Configuration file in JSON format")
	fs.String("log_level", "", "Log level (debug, info, warn, error)")

	// database
	fs.String("db_driver", "postgres", "Record store backend: postgres or memory")
	fs.String("data_source", "", "Data source")
	fs.Bool("db_migrate", false, "Apply the record schema on start")

	// consul
	fs.String("id", "", "Service id")
	fs.String("consul", "", "Host to consul")
	fs.String("grpc_addr", "", "Public gRPC address with port")

	// redis
	fs.String("redis_addr", "localhost:6379", "Redis address")
	fs.String("redis_password", "", "Redis password")
	fs.Int("redis_db", 0, "Redis DB number")

	// blob storage
	fs.String("s3_endpoint", "", "S3 compatible endpoint, empty for AWS")
	fs.String("s3_region", "us-east-1", "S3 region")
	fs.String("s3_bucket", "", "Bucket holding data files, reports and batches")
	fs.String("s3_access_key", "", "S3 access key")
	fs.String("s3_secret_key", "", "S3 secret key")
	fs.Bool("s3_path_style", false, "Use path-style bucket addressing")

	// sessions and links
	fs.Duration("inactivity_logout", time.Hour, "Session lifetime after it was issued or last renewed")
	fs.Duration("report_link_ttl", 12*time.Hour, "Report download link validity")
	fs.Duration("batch_link_ttl", 14*24*time.Hour, "Batch download link validity")
	fs.Int("link_attempts", 3, "Link issuance attempts")
	fs.Duration("link_delay", 200*time.Millisecond, "Delay between link issuance attempts")

	// smtp
	fs.String("smtp_host", "", "SMTP host, empty disables email")
	fs.Int("smtp_port", 587, "SMTP port")
	fs.String("smtp_username", "", "SMTP username")
	fs.String("smtp_password", "", "SMTP password")
	fs.String("smtp_from", "", "Envelope sender")

	// embedded reference workers
	fs.Int("workers", 0, "Number of embedded report workers, 0 when an external worker consumes the queue")

	if err := fs.Parse(args); err != nil {
		return errors.New("could not parse flags", errors.WithCause(err))
	}

	_ = v.BindPFlags(fs)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Explicit mapping
	_ = v.BindEnv("id", "CONSUL_ID")
	_ = v.BindEnv("consul", "CONSUL_HOST")
	_ = v.BindEnv("grpc_addr", "GRPC_ADDR")
	_ = v.BindEnv("redis_addr", "REDIS_ADDR")
	_ = v.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis_db", "REDIS_DB")
	_ = v.BindEnv("data_source", "DATA_SOURCE")
	_ = v.BindEnv("inactivity_logout", "INACTIVITY_LOGOUT")
	_ = v.BindEnv("log_level", "OTEL_LOG_LEVEL")
	return nil
}

func getConfigFilePath(v *viper.Viper) string {
	file := v.GetString("config_file")
	if file == "" {
		file = os.Getenv(configFileEnv)
	}
	return file
}

func loadFromFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return errors.New(fmt.Sprintf("could not load config file: %s", err.Error()))
	}
	return nil
}

func buildAppConfig(v *viper.Viper, file string) *AppConfig {
	return &AppConfig{
		File:     file,
		LogLevel: v.GetString("log_level"),
		Database: &DatabaseConfig{
			Driver:  v.GetString("db_driver"),
			Url:     v.GetString("data_source"),
			Migrate: v.GetBool("db_migrate"),
		},
		Consul: &ConsulConfig{
			Id:            v.GetString("id"),
			Address:       v.GetString("consul"),
			PublicAddress: v.GetString("grpc_addr"),
		},
		Redis: &RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		Storage: &StorageConfig{
			Endpoint:  v.GetString("s3_endpoint"),
			Region:    v.GetString("s3_region"),
			Bucket:    v.GetString("s3_bucket"),
			AccessKey: v.GetString("s3_access_key"),
			SecretKey: v.GetString("s3_secret_key"),
			PathStyle: v.GetBool("s3_path_style"),
		},
		Session: &SessionConfig{InactivityLogout: v.GetDuration("inactivity_logout")},
		Links: &LinkConfig{
			ReportTTL: v.GetDuration("report_link_ttl"),
			BatchTTL:  v.GetDuration("batch_link_ttl"),
			Attempts:  v.GetInt("link_attempts"),
			Delay:     v.GetDuration("link_delay"),
		},
		Smtp: &SmtpConfig{
			Host:     v.GetString("smtp_host"),
			Port:     v.GetInt("smtp_port"),
			Username: v.GetString("smtp_username"),
			Password: v.GetString("smtp_password"),
			From:     v.GetString("smtp_from"),
		},
		Worker: &WorkerConfig{Workers: v.GetInt("workers")},
	}
}

func validateConfig(cfg *AppConfig) error {
	switch cfg.Database.Driver {
	case "memory":
	case "postgres":
		if cfg.Database.Url == "" {
			return errors.New("Data source is required")
		}
	default:
		return errors.New(fmt.Sprintf("unknown database driver %q", cfg.Database.Driver))
	}
	if cfg.Consul.PublicAddress == "" {
		return errors.New("gRPC address is required")
	}
	if cfg.Consul.Address != "" && cfg.Consul.Id == "" {
		return errors.New("Service id is required when consul is set")
	}
	if cfg.Redis.Addr == "" {
		return errors.New("Redis address is required")
	}
	if cfg.Storage.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	if cfg.Session.InactivityLogout <= 0 {
		return errors.New("inactivity logout must be positive")
	}
	if cfg.Links.Attempts < 1 {
		return errors.New("link attempts must be at least 1")
	}
	if cfg.Worker.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	return nil
}
