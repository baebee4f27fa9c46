package drawcalc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// Config 生产环境配置结构
type Config struct {
	// 计算器配置
	Calculator *CalculatorConfig `mapstructure:"calculator"`

	// 初始开奖设置, 可选
	DrawSettings *DrawSettingsConfig `mapstructure:"draw_settings"`

	// Redis 配置
	Redis *RedisConfig `mapstructure:"redis"`

	// 设置存储配置
	SettingsStore *SettingsStoreConfig `mapstructure:"settings_store"`

	// 熔断器配置
	CircuitBreaker *CircuitBreakerConfig `mapstructure:"circuit_breaker"`

	// 重试配置
	Retry *RetryConfig `mapstructure:"retry"`
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Calculator == nil || c.Redis == nil || c.SettingsStore == nil || c.CircuitBreaker == nil || c.Retry == nil {
		return ErrConfigInvalid.WithDetails("missing configuration section")
	}

	if err := c.Calculator.Validate(); err != nil {
		return err
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}
	if err := c.SettingsStore.Validate(); err != nil {
		return err
	}
	if err := c.CircuitBreaker.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}

	// draw_settings 需能解析且合法
	if c.DrawSettings != nil {
		settings, err := c.DrawSettings.ToDrawSettings()
		if err != nil {
			return ErrConfigInvalid.WithDetails("draw_settings").WithCause(err)
		}
		if err := settings.Validate(); err != nil {
			return ErrConfigInvalid.WithDetails("draw_settings").WithCause(err)
		}
	}

	return nil
}

// CalculatorConfig 计算器配置
type CalculatorConfig struct {
	Parallelism           int           `mapstructure:"parallelism" json:"parallelism"`                         // Draws evaluated concurrently
	RequireAscendingPicks bool          `mapstructure:"require_ascending_picks" json:"require_ascending_picks"` // Reject unordered or duplicate picks
	BalanceTimeout        time.Duration `mapstructure:"balance_timeout" json:"balance_timeout"`                 // Bound on one balance lookup, 0 = none
	IncludeMatches        bool          `mapstructure:"include_matches" json:"include_matches"`                 // Keep per-pick matches in DrawPayout
}

// DefaultCalculatorConfig returns the default calculator configuration
func DefaultCalculatorConfig() *CalculatorConfig {
	return &CalculatorConfig{
		Parallelism:    DefaultParallelism,
		BalanceTimeout: DefaultBalanceTimeout,
	}
}

// Clone returns a copy of the configuration
func (c *CalculatorConfig) Clone() *CalculatorConfig {
	cp := *c
	return &cp
}

// Validate validates the calculator configuration
func (c *CalculatorConfig) Validate() error {
	if c.Parallelism < 1 || c.Parallelism > MaxParallelism {
		return ErrConfigInvalid.WithDetailsf("calculator.parallelism must be between 1 and %d", MaxParallelism)
	}
	if c.BalanceTimeout < 0 {
		return ErrConfigInvalid.WithDetails("calculator.balance_timeout cannot be negative")
	}
	return nil
}

// DrawSettingsConfig is the human-editable form of DrawSettings: the pick
// cost is an integer string and distributions are decimal fractions
type DrawSettingsConfig struct {
	BitRangeSize     uint8    `mapstructure:"bit_range_size" json:"bit_range_size"`
	MatchCardinality uint16   `mapstructure:"match_cardinality" json:"match_cardinality"`
	PickCost         string   `mapstructure:"pick_cost" json:"pick_cost"`
	Distributions    []string `mapstructure:"distributions" json:"distributions"`
	MaxPicksPerUser  uint64   `mapstructure:"max_picks_per_user" json:"max_picks_per_user,omitempty"`
}

// ToDrawSettings converts the configuration to DrawSettings.
// It parses values only; use DrawSettings.Validate for the rules.
func (c *DrawSettingsConfig) ToDrawSettings() (*DrawSettings, error) {
	pickCost, err := ParseBigInt(c.PickCost)
	if err != nil {
		return nil, err
	}

	distributions := make([]uint64, len(c.Distributions))
	for i, raw := range c.Distributions {
		v, err := ParseFixedPoint(raw)
		if err != nil {
			return nil, err
		}
		if !v.IsUint64() {
			return nil, ErrDistributionsExceedWhole.WithDetailsf("distribution %d = %s", i, raw)
		}
		distributions[i] = v.Uint64()
	}

	return &DrawSettings{
		BitRangeSize:     c.BitRangeSize,
		MatchCardinality: c.MatchCardinality,
		PickCost:         pickCost,
		Distributions:    distributions,
		MaxPicksPerUser:  c.MaxPicksPerUser,
	}, nil
}

// NewDrawSettingsConfig renders settings in their human-editable form
func NewDrawSettingsConfig(settings *DrawSettings) *DrawSettingsConfig {
	distributions := make([]string, len(settings.Distributions))
	for i, d := range settings.Distributions {
		distributions[i] = FormatFixedPoint(new(big.Int).SetUint64(d))
	}

	pickCost := "0"
	if settings.PickCost != nil {
		pickCost = settings.PickCost.String()
	}

	return &DrawSettingsConfig{
		BitRangeSize:     settings.BitRangeSize,
		MatchCardinality: settings.MatchCardinality,
		PickCost:         pickCost,
		Distributions:    distributions,
		MaxPicksPerUser:  settings.MaxPicksPerUser,
	}
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 连接配置
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// 连接池配置
	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
	MaxRetries   int `mapstructure:"max_retries"`

	// 超时配置
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
}

// DefaultRedisConfig 返回默认的Redis配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         DefaultRedisAddr,
		Password:     DefaultRedisPassword,
		DB:           DefaultRedisDB,
		PoolSize:     DefaultRedisPoolSize,
		MinIdleConns: DefaultRedisMinIdleConns,
		MaxRetries:   DefaultRedisMaxRetries,
		DialTimeout:  DefaultRedisDialTimeout,
		ReadTimeout:  DefaultRedisReadTimeout,
		WriteTimeout: DefaultRedisWriteTimeout,
		PoolTimeout:  DefaultRedisPoolTimeout,
	}
}

// Validate 验证 Redis 配置
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return ErrConfigInvalid.WithDetails("redis.addr is required")
	}
	if c.PoolSize <= 0 {
		return ErrConfigInvalid.WithDetails("redis.pool_size must be positive")
	}
	return nil
}

// RetryConfig 重试配置
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Interval time.Duration `mapstructure:"interval"`
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		Attempts: DefaultRetryAttempts,
		Interval: DefaultRetryInterval,
	}
}

// Validate 验证重试配置
func (c *RetryConfig) Validate() error {
	if c.Attempts < 0 || c.Attempts > MaxRetryAttempts {
		return ErrConfigInvalid.WithDetailsf("retry.attempts must be between 0 and %d", MaxRetryAttempts)
	}
	if c.Interval < 0 {
		return ErrConfigInvalid.WithDetails("retry.interval cannot be negative")
	}
	return nil
}

func (c *RetryConfig) attempts() int {
	if c == nil {
		return DefaultRetryAttempts
	}
	return c.Attempts
}

func (c *RetryConfig) interval() time.Duration {
	if c == nil || c.Interval <= 0 {
		return DefaultRetryInterval
	}
	return c.Interval
}

// newErrorRecovery builds the retry policy for Redis reads
func newErrorRecovery(retry *RetryConfig, logger Logger) *ErrorRecovery {
	return NewErrorRecovery(NewErrorHandlerWithDelay(logger, retry.interval()), retry.attempts(), logger)
}

// ================================================================================

// ConfigManager 配置管理器
type ConfigManager struct {
	viper  *viper.Viper
	mu     sync.RWMutex
	config *Config
	logger Logger
}

// NewConfigManager 创建配置管理器
func NewConfigManager() *ConfigManager {
	v := viper.New()

	// 设置配置文件名和路径
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/drawcalc")
	v.AddConfigPath("$HOME/.drawcalc")

	// 设置环境变量前缀
	v.SetEnvPrefix("DRAWCALC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &ConfigManager{
		viper:  v,
		logger: &DefaultLogger{},
	}
}

// NewConfigManagerFromFile 创建读取指定配置文件的配置管理器
func NewConfigManagerFromFile(path string) *ConfigManager {
	cm := NewConfigManager()
	cm.viper.SetConfigFile(path)
	return cm
}

// NewDefaultConfigManager 创建使用默认配置的配置管理器
func NewDefaultConfigManager() *ConfigManager {
	cm := NewConfigManager()
	cm.setDefaults()
	cm.config = DefaultConfig()
	return cm
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Calculator:     DefaultCalculatorConfig(),
		Redis:          DefaultRedisConfig(),
		SettingsStore:  DefaultSettingsStoreConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Retry:          DefaultRetryConfig(),
	}
}

// SetLogger 设置日志记录器
func (cm *ConfigManager) SetLogger(logger Logger) {
	if logger != nil {
		cm.logger = logger
	}
}

// LoadConfig 加载配置
func (cm *ConfigManager) LoadConfig() (*Config, error) {
	cm.setDefaults()

	if err := cm.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, ErrConfigInvalid.WithDetails("failed to read config file").WithCause(err)
		}
		// 配置文件不存在时使用默认配置
	}

	config, err := cm.decode()
	if err != nil {
		return nil, err
	}

	cm.mu.Lock()
	cm.config = config
	cm.mu.Unlock()
	return config, nil
}

// decode 解析并验证当前 viper 中的配置
func (cm *ConfigManager) decode() (*Config, error) {
	config := &Config{}
	if err := cm.viper.Unmarshal(config); err != nil {
		return nil, ErrConfigInvalid.WithDetails("failed to unmarshal config").WithCause(err)
	}

	// 未配置 draw_settings 时保持为 nil
	if !cm.viper.IsSet("draw_settings") {
		config.DrawSettings = nil
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// setDefaults 设置默认配置值
func (cm *ConfigManager) setDefaults() {
	// 计算器默认配置
	cm.viper.SetDefault("calculator.parallelism", DefaultParallelism)
	cm.viper.SetDefault("calculator.require_ascending_picks", false)
	cm.viper.SetDefault("calculator.balance_timeout", DefaultBalanceTimeout.String())
	cm.viper.SetDefault("calculator.include_matches", false)

	// Redis 默认配置
	cm.viper.SetDefault("redis.addr", DefaultRedisAddr)
	cm.viper.SetDefault("redis.password", DefaultRedisPassword)
	cm.viper.SetDefault("redis.db", DefaultRedisDB)
	cm.viper.SetDefault("redis.pool_size", DefaultRedisPoolSize)
	cm.viper.SetDefault("redis.min_idle_conns", DefaultRedisMinIdleConns)
	cm.viper.SetDefault("redis.max_retries", DefaultRedisMaxRetries)
	cm.viper.SetDefault("redis.dial_timeout", DefaultRedisDialTimeout.String())
	cm.viper.SetDefault("redis.read_timeout", DefaultRedisReadTimeout.String())
	cm.viper.SetDefault("redis.write_timeout", DefaultRedisWriteTimeout.String())
	cm.viper.SetDefault("redis.pool_timeout", DefaultRedisPoolTimeout.String())

	// 设置存储默认配置
	cm.viper.SetDefault("settings_store.key", DefaultSettingsKey)
	cm.viper.SetDefault("settings_store.channel", DefaultSettingsChannel)
	cm.viper.SetDefault("settings_store.lock_timeout", DefaultLockTimeout.String())
	cm.viper.SetDefault("settings_store.lock_expiration", DefaultLockExpiration.String())

	// 熔断器默认配置
	cm.viper.SetDefault("circuit_breaker.enabled", true)
	cm.viper.SetDefault("circuit_breaker.name", DefaultCircuitBreakerName)
	cm.viper.SetDefault("circuit_breaker.max_requests", DefaultCircuitBreakerMaxRequests)
	cm.viper.SetDefault("circuit_breaker.interval", DefaultCircuitBreakerInterval.String())
	cm.viper.SetDefault("circuit_breaker.timeout", DefaultCircuitBreakerTimeout.String())
	cm.viper.SetDefault("circuit_breaker.failure_ratio", DefaultCircuitBreakerFailureRatio)
	cm.viper.SetDefault("circuit_breaker.min_requests", DefaultCircuitBreakerMinRequests)
	cm.viper.SetDefault("circuit_breaker.on_state_change", DefaultCircuitBreakerOnStateChange)

	// 重试默认配置
	cm.viper.SetDefault("retry.attempts", DefaultRetryAttempts)
	cm.viper.SetDefault("retry.interval", DefaultRetryInterval.String())
}

// WatchConfig 监听配置变化, 无效的配置被忽略
func (cm *ConfigManager) WatchConfig(callback func(*Config)) error {
	cm.viper.OnConfigChange(func(e fsnotify.Event) {
		config, err := cm.decode()
		if err != nil {
			// 记录错误但不中断服务
			cm.logger.Error("Ignoring invalid config change in %s: %v", e.Name, err)
			return
		}

		cm.mu.Lock()
		cm.config = config
		cm.mu.Unlock()

		cm.logger.Info("Config reloaded from %s", e.Name)
		if callback != nil {
			callback(config)
		}
	})
	cm.viper.WatchConfig()

	return nil
}

// WatchDrawSettings pushes every changed draw_settings section through manager
func (cm *ConfigManager) WatchDrawSettings(ctx context.Context, manager *SettingsManager) error {
	return cm.WatchConfig(func(config *Config) {
		if err := ApplyDrawSettings(ctx, manager, config); err != nil {
			cm.logger.Error("Failed to apply draw settings from config: %v", err)
		}
	})
}

// ApplyDrawSettings installs config's draw_settings unless they equal the
// installed ones. Configs without draw_settings are a no-op.
func ApplyDrawSettings(ctx context.Context, manager *SettingsManager, config *Config) error {
	if config == nil || config.DrawSettings == nil {
		return nil
	}

	settings, err := config.DrawSettings.ToDrawSettings()
	if err != nil {
		return err
	}

	if current := manager.Current(); current != nil && sameDrawSettings(&current.Settings, settings) {
		return nil
	}

	_, err = manager.SetDrawSettings(ctx, settings)
	return err
}

func sameDrawSettings(a, b *DrawSettings) bool {
	if a.BitRangeSize != b.BitRangeSize || a.MatchCardinality != b.MatchCardinality ||
		a.MaxPicksPerUser != b.MaxPicksPerUser || len(a.Distributions) != len(b.Distributions) {
		return false
	}
	if (a.PickCost == nil) != (b.PickCost == nil) || (a.PickCost != nil && a.PickCost.Cmp(b.PickCost) != 0) {
		return false
	}
	for i := range a.Distributions {
		if a.Distributions[i] != b.Distributions[i] {
			return false
		}
	}
	return true
}

// GetConfig 获取当前配置
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return cm.config
}

// ReloadConfig 重新加载配置
func (cm *ConfigManager) ReloadConfig() (*Config, error) { return cm.LoadConfig() }

// NewRedisClientFromConfig 从配置创建Redis客户端
func NewRedisClientFromConfig(config *RedisConfig) *redis.Client {
	if config == nil {
		config = DefaultRedisConfig()
	}

	return redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolTimeout:  config.PoolTimeout,
	})
}

// String implements fmt.Stringer without leaking the Redis password
func (c *RedisConfig) String() string {
	return fmt.Sprintf("RedisConfig{addr=%s, db=%d, pool_size=%d}", c.Addr, c.DB, c.PoolSize)
}
