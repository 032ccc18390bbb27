package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store" validate:"required"`
	Corridor   CorridorConfig   `yaml:"corridor" mapstructure:"corridor"`
	EIA        EIAConfig        `yaml:"eia" mapstructure:"eia"`
	NOAA       NOAAConfig       `yaml:"noaa" mapstructure:"noaa"`
	EBB        EBBConfig        `yaml:"ebb" mapstructure:"ebb"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Model      ModelConfig      `yaml:"model" mapstructure:"model"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// Pool sizing, postgres only.
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// CorridorConfig identifies the monitored pipeline corridor.
type CorridorConfig struct {
	Name         string `yaml:"name" mapstructure:"name"`
	RegionID     string `yaml:"region_id" mapstructure:"region_id"`
	StationsFile string `yaml:"stations_file" mapstructure:"stations_file"`
}

// EIAConfig holds EIA open-data API settings (spot price, storage).
type EIAConfig struct {
	APIKey        string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SpotSeries    string `yaml:"spot_series" mapstructure:"spot_series"`
	StorageSeries string `yaml:"storage_series" mapstructure:"storage_series"`
	StorageRegion string `yaml:"storage_region" mapstructure:"storage_region"`
}

// NOAAConfig holds NOAA GHCN-D access settings for station weather pulls.
type NOAAConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// FTPAddr is the NCEI archive fallback (host:port) used when the HTTP
	// access endpoint is unavailable. Empty disables the fallback.
	FTPAddr string `yaml:"ftp_addr" mapstructure:"ftp_addr"`
	FTPPath string `yaml:"ftp_path" mapstructure:"ftp_path"`
}

// EBBConfig holds the pipeline operator's electronic bulletin board settings
// (notices and operationally-available capacity postings).
type EBBConfig struct {
	NoticesURL  string `yaml:"notices_url" mapstructure:"notices_url"`
	CapacityURL string `yaml:"capacity_url" mapstructure:"capacity_url"`
	Pipe        string `yaml:"pipe" mapstructure:"pipe"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
}

// IngestConfig configures the orchestrated ingestion run.
type IngestConfig struct {
	DateRangeDays     int `yaml:"date_range_days" mapstructure:"date_range_days" validate:"gt=0"`
	SourceTimeoutSecs int `yaml:"source_timeout_secs" mapstructure:"source_timeout_secs" validate:"gt=0"`
	RunTimeoutSecs    int `yaml:"run_timeout_secs" mapstructure:"run_timeout_secs" validate:"gt=0"`
	MaxConcurrent     int `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"gt=0"`
	StalenessHours    int `yaml:"staleness_hours" mapstructure:"staleness_hours" validate:"gt=0"`
	RetryMaxAttempts  int `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryBackoffMs    int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RetryMaxBackoffMs int `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
}

// ModelConfig holds the risk model hyperparameters.
type ModelConfig struct {
	HorizonDays         int     `yaml:"horizon_days" mapstructure:"horizon_days" validate:"gt=0"`
	WindowDays          int     `yaml:"window_days" mapstructure:"window_days" validate:"gt=0"`
	MinHistoryDays      int     `yaml:"min_history_days" mapstructure:"min_history_days" validate:"gt=0"`
	Seed                int64   `yaml:"seed" mapstructure:"seed"`
	Draws               int     `yaml:"draws" mapstructure:"draws" validate:"gt=0"`
	BurnIn              int     `yaml:"burn_in" mapstructure:"burn_in" validate:"gte=0"`
	BaselineYears       int     `yaml:"baseline_years" mapstructure:"baseline_years" validate:"gt=0"`
	BaselineWindowDays  int     `yaml:"baseline_window_days" mapstructure:"baseline_window_days" validate:"gte=0"`
	MinBaselineYears    int     `yaml:"min_baseline_years" mapstructure:"min_baseline_years" validate:"gt=0"`
	RhatLowConfidence   float64 `yaml:"rhat_low_confidence" mapstructure:"rhat_low_confidence" validate:"gt=1"`
	CredibleMassPercent float64 `yaml:"credible_mass_percent" mapstructure:"credible_mass_percent" validate:"gt=0,lt=100"`
}

// MonitoringConfig configures staleness and failure-rate alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
}

// ServerConfig configures the read-only status API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// ScheduleConfig configures the in-process cron daemon.
type ScheduleConfig struct {
	Cron string `yaml:"cron" mapstructure:"cron"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment and validates it.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GASRISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "gasrisk.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("schedule.cron", "15 6 * * *")
	v.SetDefault("corridor.name", "algonquin")
	v.SetDefault("corridor.region_id", "algonquin_citygates")
	v.SetDefault("corridor.stations_file", "stations.yaml")
	v.SetDefault("eia.base_url", "https://api.eia.gov/v2")
	v.SetDefault("eia.spot_series", "RNGWHHD")
	v.SetDefault("eia.storage_series", "NW2_EPG0_SWO_R48_BCF")
	v.SetDefault("eia.storage_region", "lower48")
	v.SetDefault("noaa.base_url", "https://www.ncei.noaa.gov/data/global-historical-climatology-network-daily/access")
	v.SetDefault("noaa.ftp_path", "/pub/data/ghcn/daily/by_station")
	v.SetDefault("ebb.notices_url", "https://infopost.enbridge.com/infopost")
	v.SetDefault("ebb.capacity_url", "https://rtba.enbridge.com/InformationalPosting/Default.aspx")
	v.SetDefault("ebb.pipe", "AG")
	v.SetDefault("ebb.user_agent", "gasrisk-cli/1.0")
	v.SetDefault("ingest.date_range_days", 3)
	v.SetDefault("ingest.source_timeout_secs", 300)
	v.SetDefault("ingest.run_timeout_secs", 1800)
	v.SetDefault("ingest.max_concurrent", 5)
	v.SetDefault("ingest.staleness_hours", 48)
	v.SetDefault("ingest.retry_max_attempts", 4)
	v.SetDefault("ingest.retry_backoff_ms", 1000)
	v.SetDefault("ingest.retry_max_backoff_ms", 30000)
	v.SetDefault("model.horizon_days", 7)
	v.SetDefault("model.window_days", 60)
	v.SetDefault("model.min_history_days", 14)
	v.SetDefault("model.seed", 20240101)
	v.SetDefault("model.draws", 2000)
	v.SetDefault("model.burn_in", 1000)
	v.SetDefault("model.baseline_years", 3)
	v.SetDefault("model.baseline_window_days", 7)
	v.SetDefault("model.min_baseline_years", 2)
	v.SetDefault("model.rhat_low_confidence", 1.1)
	v.SetDefault("model.credible_mass_percent", 90)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 72)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: validate")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
