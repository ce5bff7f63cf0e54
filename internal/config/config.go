package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"consensus-simulator/consensus/fork"
	"consensus-simulator/consensus/pos"
	"consensus-simulator/consensus/pow"
)

// EnvPrefix - префикс переменных окружения, например SIMULATOR_POW_DIFFICULTY.
const EnvPrefix = "SIMULATOR"

// ErrInvalidConfig оборачивает все ошибки валидации.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	Server   ServerConfig  `mapstructure:"server"`
	Client   ClientConfig  `mapstructure:"client"`
	PoW      PoWConfig     `mapstructure:"pow"`
	PoS      PoSConfig     `mapstructure:"pos"`
	Fork     ForkConfig    `mapstructure:"fork"`
	Monitor  MonitorConfig `mapstructure:"monitor"`
	Traffic  TrafficConfig `mapstructure:"traffic"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ClientConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
}

type PoWConfig struct {
	Difficulty      int           `mapstructure:"difficulty"`
	TargetBlockTime time.Duration `mapstructure:"target_block_time"`
	RaceTimeout     time.Duration `mapstructure:"race_timeout"`
	Mode            string        `mapstructure:"mode"`
	ThrottleBase    int           `mapstructure:"throttle_base"`
	ThrottleDelay   time.Duration `mapstructure:"throttle_delay"`
	MaxNonce        int64         `mapstructure:"max_nonce"`
	SMAWindow       int           `mapstructure:"sma_window"`
	Seed            int64         `mapstructure:"seed"`
}

type PoSConfig struct {
	RewardRate float64 `mapstructure:"reward_rate"`
	Seed       int64   `mapstructure:"seed"`
}

type ForkConfig struct {
	LatencyMin     time.Duration `mapstructure:"latency_min"`
	LatencyMax     time.Duration `mapstructure:"latency_max"`
	MaxExtraBlocks int           `mapstructure:"max_extra_blocks"`
	Seed           int64         `mapstructure:"seed"`
}

type MonitorConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	OutputDir string        `mapstructure:"output_dir"`
}

// TrafficConfig - параметры пакетной нагрузки. Mix задает вес
// для каждого типа задач.
type TrafficConfig struct {
	Rate float64        `mapstructure:"rate"`
	Jobs int            `mapstructure:"jobs"`
	Mix  map[string]int `mapstructure:"mix"`
}

// SetDefaults регистрирует все ключи со значениями по умолчанию,
// чтобы Unmarshal видел переменные окружения.
func SetDefaults(v *viper.Viper) {
	powDefaults := pow.DefaultConfig()
	posDefaults := pos.DefaultConfig()
	forkDefaults := fork.DefaultConfig()

	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 45*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("client.server_url", "http://localhost:8080")
	v.SetDefault("client.timeout", 45*time.Second)
	v.SetDefault("client.retries", 2)

	v.SetDefault("pow.difficulty", powDefaults.Difficulty)
	v.SetDefault("pow.target_block_time", powDefaults.TargetBlockTime)
	v.SetDefault("pow.race_timeout", powDefaults.RaceTimeout)
	v.SetDefault("pow.mode", powDefaults.Mode)
	v.SetDefault("pow.throttle_base", powDefaults.ThrottleBase)
	v.SetDefault("pow.throttle_delay", powDefaults.ThrottleDelay)
	v.SetDefault("pow.max_nonce", powDefaults.MaxNonce)
	v.SetDefault("pow.sma_window", powDefaults.SMAWindow)
	v.SetDefault("pow.seed", 0)

	v.SetDefault("pos.reward_rate", posDefaults.RewardRate)
	v.SetDefault("pos.seed", 0)

	v.SetDefault("fork.latency_min", forkDefaults.LatencyMin)
	v.SetDefault("fork.latency_max", forkDefaults.LatencyMax)
	v.SetDefault("fork.max_extra_blocks", forkDefaults.MaxExtraBlocks)
	v.SetDefault("fork.seed", 0)

	v.SetDefault("monitor.interval", time.Second)
	v.SetDefault("monitor.output_dir", "results")

	v.SetDefault("traffic.rate", 20.0)
	v.SetDefault("traffic.jobs", 100)
	v.SetDefault("traffic.mix", map[string]int{
		"mine":     1,
		"validate": 4,
		"fork":     1,
		"resolve":  1,
	})
}

// NewViper возвращает viper с умолчаниями и переменными SIMULATOR_*.
// Если path не пуст, читается и файл.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}
	return v, nil
}

// Load декодирует и проверяет конфигурацию из v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет значения, которые движки не исправят сами.
func (c *Config) Validate() error {
	switch {
	case c.PoW.Difficulty < 1:
		return errors.WithMessagef(ErrInvalidConfig, "pow.difficulty must be at least 1, got %d", c.PoW.Difficulty)
	case c.PoW.Difficulty > 64:
		return errors.WithMessagef(ErrInvalidConfig, "pow.difficulty must not exceed 64, got %d", c.PoW.Difficulty)
	case c.PoW.TargetBlockTime <= 0:
		return errors.WithMessage(ErrInvalidConfig, "pow.target_block_time must be positive")
	case c.PoW.RaceTimeout <= 0:
		return errors.WithMessage(ErrInvalidConfig, "pow.race_timeout must be positive")
	case c.PoW.Mode != pow.ModeRace && c.PoW.Mode != pow.ModeLottery:
		return errors.WithMessagef(ErrInvalidConfig, "pow.mode must be %q or %q, got %q", pow.ModeRace, pow.ModeLottery, c.PoW.Mode)
	case c.PoS.RewardRate <= 0:
		return errors.WithMessage(ErrInvalidConfig, "pos.reward_rate must be positive")
	case c.Fork.LatencyMin <= 0 || c.Fork.LatencyMax < c.Fork.LatencyMin:
		return errors.WithMessagef(ErrInvalidConfig, "fork latency range [%s, %s] is invalid", c.Fork.LatencyMin, c.Fork.LatencyMax)
	case c.Fork.MaxExtraBlocks < 0:
		return errors.WithMessage(ErrInvalidConfig, "fork.max_extra_blocks must not be negative")
	case c.Monitor.Interval <= 0:
		return errors.WithMessage(ErrInvalidConfig, "monitor.interval must be positive")
	case c.Traffic.Rate <= 0:
		return errors.WithMessage(ErrInvalidConfig, "traffic.rate must be positive")
	}

	weight := 0
	for kind, w := range c.Traffic.Mix {
		if w < 0 {
			return errors.WithMessagef(ErrInvalidConfig, "traffic.mix.%s must not be negative", kind)
		}
		weight += w
	}
	if weight == 0 {
		return errors.WithMessage(ErrInvalidConfig, "traffic.mix needs at least one positive weight")
	}
	return nil
}

// Engine переводит секцию PoW в параметры движка с начальными майнерами.
func (c PoWConfig) Engine() pow.Config {
	return pow.Config{
		Difficulty:      c.Difficulty,
		TargetBlockTime: c.TargetBlockTime,
		RaceTimeout:     c.RaceTimeout,
		Mode:            c.Mode,
		ThrottleBase:    c.ThrottleBase,
		ThrottleDelay:   c.ThrottleDelay,
		MaxNonce:        c.MaxNonce,
		SMAWindow:       c.SMAWindow,
		Seed:            c.Seed,
	}
}

func (c PoSConfig) Engine() pos.Config {
	return pos.Config{
		RewardRate: c.RewardRate,
		Seed:       c.Seed,
	}
}

func (c ForkConfig) Engine() fork.Config {
	d := fork.DefaultConfig()
	extra := c.MaxExtraBlocks
	if extra == 0 {
		extra = -1
	}
	return fork.Config{
		LatencyMin:     c.LatencyMin,
		LatencyMax:     c.LatencyMax,
		MaxExtraBlocks: extra,
		NonceMin:       d.NonceMin,
		NonceMax:       d.NonceMax,
		Seed:           c.Seed,
	}
}
