package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"spread-sync/internal/calendar"
	"spread-sync/internal/logging"
	"spread-sync/internal/merge"
	"spread-sync/internal/record"
	"spread-sync/internal/validate"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Calendar    CalendarConfig    `mapstructure:"calendar"`
	Integration IntegrationConfig `mapstructure:"integration"`
	Validation  ValidationConfig  `mapstructure:"validation"`
	Merge       MergeConfig       `mapstructure:"merge"`
	Sources     SourcesConfig     `mapstructure:"sources"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Export      ExportConfig      `mapstructure:"export"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. The same database
// holds the exchange feed tables and the integration run tables.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CalendarConfig feeds the business-day calendar.
type CalendarConfig struct {
	Holidays    []string `mapstructure:"holidays"`
	HolidayFile string   `mapstructure:"holiday_file"`
	Timezone    string   `mapstructure:"timezone"`
}

// IntegrationConfig is one integration request.
type IntegrationConfig struct {
	Contracts    []string       `mapstructure:"contracts" validate:"min=1,max=2,dive,required"`
	Coefficients []float64      `mapstructure:"coefficients" validate:"omitempty,eqfield=Contracts,dive,unit"`
	Period       PeriodConfig   `mapstructure:"period"`
	Options      SourceSwitches `mapstructure:"options"`
	NS           int            `mapstructure:"n_s" validate:"gte=0"`
}

// PeriodConfig is the half-open day range [Start, End).
type PeriodConfig struct {
	Start time.Time `mapstructure:"start_date" validate:"required"`
	End   time.Time `mapstructure:"end_date" validate:"required,gtfield=Start"`
}

// SourceSwitches toggle the two sources.
type SourceSwitches struct {
	IncludeReal      bool `mapstructure:"include_real"`
	IncludeSynthetic bool `mapstructure:"include_synthetic"`
}

// ValidationConfig parameterises the quality filters.
type ValidationConfig struct {
	BidAsk  BidAskConfig  `mapstructure:"bid_ask"`
	Outlier OutlierConfig `mapstructure:"outlier"`
}

// BidAskConfig selects strict or lenient handling of crossed quotes.
type BidAskConfig struct {
	Mode    string  `mapstructure:"mode"`
	Epsilon float64 `mapstructure:"epsilon"`
}

// OutlierConfig controls the rolling z-score filter.
type OutlierConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ZThreshold   float64       `mapstructure:"z_threshold"`
	Window       int           `mapstructure:"window"`
	Lookback     time.Duration `mapstructure:"lookback"`
	MaxPctChange float64       `mapstructure:"max_pct_change"`
}

// MergeConfig tunes the merge engine.
type MergeConfig struct {
	DuplicateTolerance time.Duration `mapstructure:"duplicate_tolerance"`
	DuplicateEpsilon   float64       `mapstructure:"duplicate_epsilon"`
	QuoteBucket        time.Duration `mapstructure:"quote_bucket"`
	QuoteTTL           time.Duration `mapstructure:"quote_ttl"`
	SourcePriority     []string      `mapstructure:"source_priority"`
	Session            SessionConfig `mapstructure:"session"`
	AllowedBrokers     []int         `mapstructure:"allowed_brokers"`
	SyntheticBuffer    float64       `mapstructure:"synthetic_buffer"`
}

// SessionConfig is the daily trading session filter.
type SessionConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Start    string `mapstructure:"start"`
	End      string `mapstructure:"end"`
	Timezone string `mapstructure:"timezone"`
}

// SourcesConfig covers the upstream collaborators.
type SourcesConfig struct {
	Real      RealSourceConfig      `mapstructure:"real"`
	Synthetic SyntheticSourceConfig `mapstructure:"synthetic"`
	Fixtures  string                `mapstructure:"fixtures_dir"`
}

// RealSourceConfig points at the exchange feed tables.
type RealSourceConfig struct {
	TradesTable    string        `mapstructure:"trades_table"`
	OrdersTable    string        `mapstructure:"orders_table"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SyntheticSourceConfig captures the spread service connectivity.
type SyntheticSourceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SchedulerConfig governs the daily run.
type SchedulerConfig struct {
	RunAt           string        `mapstructure:"run_at"`
	Timezone        string        `mapstructure:"timezone"`
	LookbackDays    int           `mapstructure:"lookback_days"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines data-quality thresholds and routing.
type AlertingConfig struct {
	Enabled    bool           `mapstructure:"enabled"`
	MaxDropPct float64        `mapstructure:"max_drop_pct"`
	Channels   []string       `mapstructure:"channels"`
	Telegram   TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets export behaviour.
type ExportConfig struct {
	Dir           string   `mapstructure:"dir"`
	Formats       []string `mapstructure:"formats"`
	MaxDataPoints int      `mapstructure:"max_data_points"`
	S3            S3Config `mapstructure:"s3"`
}

// S3Config enables upload of exported files.
type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// MetricsConfig exposes Prometheus metrics in run mode.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("SPREADSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "spreadsync")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 30)

	v.SetDefault("calendar.timezone", "UTC")

	v.SetDefault("integration.options.include_real", true)
	v.SetDefault("integration.options.include_synthetic", true)
	v.SetDefault("integration.n_s", 3)

	v.SetDefault("validation.bid_ask.mode", string(validate.ModeStrict))
	v.SetDefault("validation.bid_ask.epsilon", validate.DefaultEpsilon)
	v.SetDefault("validation.outlier.enabled", true)
	v.SetDefault("validation.outlier.z_threshold", 3.0)
	v.SetDefault("validation.outlier.window", 20)
	v.SetDefault("validation.outlier.lookback", "2h")
	v.SetDefault("validation.outlier.max_pct_change", 8.0)

	v.SetDefault("merge.duplicate_tolerance", "1s")
	v.SetDefault("merge.duplicate_epsilon", 1e-6)
	v.SetDefault("merge.quote_bucket", "0s")
	v.SetDefault("merge.quote_ttl", "0s")
	v.SetDefault("merge.source_priority", []string{string(record.SourceReal), string(record.SourceSynthetic)})
	v.SetDefault("merge.session.enabled", false)
	v.SetDefault("merge.session.start", "09:00")
	v.SetDefault("merge.session.end", "17:30")
	v.SetDefault("merge.session.timezone", "Europe/Berlin")
	v.SetDefault("merge.allowed_brokers", []int{1441})
	v.SetDefault("merge.synthetic_buffer", merge.DefaultSyntheticBuffer)

	v.SetDefault("sources.real.trades_table", "spread_trades")
	v.SetDefault("sources.real.orders_table", "spread_orders")
	v.SetDefault("sources.real.request_timeout", "30s")
	v.SetDefault("sources.synthetic.request_timeout", "30s")
	v.SetDefault("sources.synthetic.rate_per_second", 5.0)
	v.SetDefault("sources.synthetic.burst", 1)
	v.SetDefault("sources.synthetic.user_agent", "spreadsync/1.0")
	v.SetDefault("sources.fixtures_dir", "fixtures")

	v.SetDefault("scheduler.run_at", "18:30")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.lookback_days", 1)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x73707264))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.max_drop_pct", 20.0)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.dir", "exports")
	v.SetDefault("export.formats", []string{"csv"})
	v.SetDefault("export.max_data_points", 100000)
	v.SetDefault("export.s3.prefix", "spreadsync")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9108")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.DateOnly),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values. The
// integration request itself is checked by ValidateRequest when a command
// needs it.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	for _, f := range c.Export.Formats {
		switch strings.ToLower(f) {
		case "csv", "png", "parquet":
		default:
			return fmt.Errorf("export.formats: unknown format %q", f)
		}
	}
	if c.Export.S3.Enabled && c.Export.S3.Bucket == "" {
		return fmt.Errorf("export.s3.bucket must be set when s3 upload is enabled")
	}
	if _, err := validate.ParseMode(c.Validation.BidAsk.Mode); err != nil {
		return fmt.Errorf("validation.bid_ask.mode: %w", err)
	}
	if c.Alerting.MaxDropPct < 0 {
		return fmt.Errorf("alerting.max_drop_pct cannot be negative")
	}
	if c.Sources.Synthetic.RatePerSecond < 0 {
		return fmt.Errorf("sources.synthetic.rate_per_second cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if _, err := c.MergeOptions(); err != nil {
		return err
	}
	return nil
}

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("unit", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return f == 1 || f == -1
	})
	return v
}

// ValidateRequest checks an integration request: one or two contracts,
// coefficients of ±1 matching the contracts, n_s >= 0 and start < end.
func ValidateRequest(req IntegrationConfig) error {
	if err := requestValidator.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid integration request: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid integration request: %w", err)
	}
	return nil
}

// Location resolves a timezone name, empty meaning UTC.
func Location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// BusinessCalendar builds the holiday calendar from the inline list and the
// optional holiday file.
func (c *Config) BusinessCalendar() (*calendar.BusinessDays, error) {
	if c.Calendar.HolidayFile != "" {
		return calendar.LoadFile(c.Calendar.HolidayFile, c.Calendar.Holidays...)
	}
	return calendar.ParseHolidays(c.Calendar.Holidays)
}

// MergeOptions converts the validation and merge sections into engine
// options.
func (c *Config) MergeOptions() (merge.Options, error) {
	mode, err := validate.ParseMode(c.Validation.BidAsk.Mode)
	if err != nil {
		return merge.Options{}, err
	}
	opts := merge.Options{
		BidAskMode:         mode,
		BidAskEpsilon:      c.Validation.BidAsk.Epsilon,
		DuplicateTolerance: c.Merge.DuplicateTolerance,
		DuplicateEpsilon:   c.Merge.DuplicateEpsilon,
		QuoteBucket:        c.Merge.QuoteBucket,
		QuoteTTL:           c.Merge.QuoteTTL,
		AllowedBrokers:     c.Merge.AllowedBrokers,
		SyntheticBuffer:    c.Merge.SyntheticBuffer,
	}
	for _, src := range c.Merge.SourcePriority {
		opts.SourcePriority = append(opts.SourcePriority, record.Source(strings.TrimSpace(src)))
	}
	if o := c.Validation.Outlier; o.Enabled {
		opts.Outlier = &validate.OutlierOptions{
			Threshold:    o.ZThreshold,
			Window:       o.Window,
			Lookback:     o.Lookback,
			MaxPctChange: o.MaxPctChange,
		}
	}
	if s := c.Merge.Session; s.Enabled {
		loc, err := Location(s.Timezone)
		if err != nil {
			return merge.Options{}, fmt.Errorf("merge.session.timezone: %w", err)
		}
		if opts.Session, err = merge.ParseSession(s.Start, s.End, loc); err != nil {
			return merge.Options{}, fmt.Errorf("merge.session: %w", err)
		}
	}
	if _, err := merge.NewEngine(opts); err != nil {
		return merge.Options{}, err
	}
	return opts, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
