package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/sshcollectorpro/sshexpect/pkg/expect"
	"github.com/sshcollectorpro/sshexpect/pkg/logger"
	sshc "github.com/sshcollectorpro/sshexpect/pkg/ssh"
)

// Config 应用配置结构
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	SSH          SSHConfig          `mapstructure:"ssh"`
	Expect       ExpectConfig       `mapstructure:"expect"`
	Pool         PoolConfig         `mapstructure:"pool"`
	Runner       RunnerConfig       `mapstructure:"runner"`
	Targets      []TargetConfig     `mapstructure:"targets"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Storage      StorageConfig      `mapstructure:"storage"`
	OutputFilter OutputFilterConfig `mapstructure:"output_filter"`
	Log          LogConfig          `mapstructure:"log"`
	Simulate     SimulateConfig     `mapstructure:"simulate"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// SSHConfig 传输层配置
type SSHConfig struct {
	// DialTimeout/AuthTimeout 合并为握手超时
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	AuthTimeout time.Duration `mapstructure:"auth_timeout"`
	KeepAlive   time.Duration `mapstructure:"keep_alive"`
	TermWidth   int           `mapstructure:"term_width"`
}

// ExpectConfig 会话同步参数
type ExpectConfig struct {
	Terminator     string        `mapstructure:"terminator"`
	WaitTimeout    time.Duration `mapstructure:"wait_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	SettleWait     time.Duration `mapstructure:"settle_wait"`
	PTYHeight      int           `mapstructure:"pty_height"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Encoding       string        `mapstructure:"encoding"`
}

// PoolConfig 会话池配置
type PoolConfig struct {
	MaxIdle         int           `mapstructure:"max_idle"`
	MaxActive       int           `mapstructure:"max_active"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// RunnerConfig 批量执行配置
type RunnerConfig struct {
	Concurrent int `mapstructure:"concurrent"`
	// ConcurrencyProfile 并发档位：S/M/L/XL（优先级高于 concurrent 数值）
	ConcurrencyProfile  string         `mapstructure:"concurrency_profile"`
	ConcurrencyProfiles map[string]int `mapstructure:"concurrency_profiles"`
	// ReturnStatus 默认是否探测退出码
	ReturnStatus bool `mapstructure:"return_status"`
}

// TargetConfig 预置目标
type TargetConfig struct {
	Name     string   `mapstructure:"name"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	Commands []string `mapstructure:"commands"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig 会话记录存储配置
type StorageConfig struct {
	// Backend 存储后端：none | local | minio
	Backend string      `mapstructure:"backend"`
	Prefix  string      `mapstructure:"prefix"`
	Local   LocalConfig `mapstructure:"local"`
	Minio   MinioConfig `mapstructure:"minio"`
}

// LocalConfig 本地存储配置
type LocalConfig struct {
	BaseDir        string `mapstructure:"base_dir"`
	MkdirIfMissing bool   `mapstructure:"mkdir_if_missing"`
}

// MinioConfig 对象存储配置
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

// OutputFilterConfig 输出过滤器配置
type OutputFilterConfig struct {
	// Prefixes: 移除以这些字符串开头的行（例如分页提示 "---- More ----"）
	Prefixes []string `mapstructure:"prefixes"`
	// Contains: 移除包含这些子串的行（例如 Cisco 的 "--more--"）
	Contains        []string `mapstructure:"contains"`
	CaseInsensitive bool     `mapstructure:"case_insensitive"`
	TrimSpace       bool     `mapstructure:"trim_space"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// SimulateConfig 内置模拟器
type SimulateConfig struct {
	Enable     bool   `mapstructure:"enable"`
	ConfigPath string `mapstructure:"config_path"`
}

var (
	globalConfig *Config
	v            *viper.Viper
	mu           sync.RWMutex
)

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	nv := viper.New()
	nv.SetConfigType("yaml")
	setDefaults(nv)

	if configPath != "" {
		nv.SetConfigFile(configPath)
	} else {
		nv.SetConfigName("config")
		nv.AddConfigPath("./configs")
		nv.AddConfigPath("../configs")
		nv.AddConfigPath("../../configs")
	}

	nv.SetEnvPrefix("SSH_EXPECT")
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	nv.AutomaticEnv()

	if err := nv.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decode(nv)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	v = nv
	globalConfig = cfg
	mu.Unlock()
	return cfg, nil
}

func decode(nv *viper.Viper) (*Config, error) {
	var cfg Config
	if err := nv.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	replaceEnvVars(&cfg)
	applyConcurrencyProfile(&cfg)
	return &cfg, nil
}

func setDefaults(nv *viper.Viper) {
	nv.SetDefault("server.host", "0.0.0.0")
	nv.SetDefault("server.port", 8080)
	nv.SetDefault("server.mode", "release")
	nv.SetDefault("server.read_timeout", 30*time.Second)
	nv.SetDefault("server.write_timeout", 5*time.Minute)

	nv.SetDefault("ssh.dial_timeout", 2*time.Second)
	nv.SetDefault("ssh.auth_timeout", 5*time.Second)
	nv.SetDefault("ssh.keep_alive", 30*time.Second)
	nv.SetDefault("ssh.term_width", 200)

	nv.SetDefault("expect.terminator", expect.DefaultTerminator)
	nv.SetDefault("expect.wait_timeout", expect.DefaultWaitTimeout)
	nv.SetDefault("expect.connect_timeout", expect.DefaultConnectTimeout)
	nv.SetDefault("expect.command_timeout", expect.DefaultCommandTimeout)
	nv.SetDefault("expect.settle_wait", expect.DefaultSettleWait)
	nv.SetDefault("expect.pty_height", expect.DefaultPTYHeight)
	nv.SetDefault("expect.poll_interval", expect.DefaultPollInterval)
	nv.SetDefault("expect.encoding", "auto")

	nv.SetDefault("pool.max_active", 64)
	nv.SetDefault("pool.idle_timeout", 5*time.Minute)
	nv.SetDefault("pool.cleanup_interval", 30*time.Second)

	nv.SetDefault("runner.concurrent", 8)
	nv.SetDefault("runner.concurrency_profiles", map[string]int{
		"S":  8,  // 2c4g
		"M":  16, // 4c8g
		"L":  32, // 8c16g
		"XL": 64, // 16c32g
	})

	nv.SetDefault("database.sqlite.path", "./data/sshexpect.db")
	nv.SetDefault("database.sqlite.max_idle_conns", 2)
	nv.SetDefault("database.sqlite.max_open_conns", 1)
	nv.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	nv.SetDefault("storage.backend", "local")
	nv.SetDefault("storage.prefix", "transcripts")
	nv.SetDefault("storage.local.base_dir", "./data")
	nv.SetDefault("storage.local.mkdir_if_missing", true)

	// 默认输出过滤规则：H3C/Huawei 页提示与 Cisco --more--
	nv.SetDefault("output_filter.prefixes", []string{"---- More ----"})
	nv.SetDefault("output_filter.contains", []string{"--more--"})
	nv.SetDefault("output_filter.case_insensitive", true)
	nv.SetDefault("output_filter.trim_space", true)

	nv.SetDefault("log.level", "info")
	nv.SetDefault("log.format", "text")
	nv.SetDefault("log.output", "console")
	nv.SetDefault("log.file_path", "./logs/sshexpect.log")
	nv.SetDefault("log.max_size", 100)
	nv.SetDefault("log.max_backups", 5)
	nv.SetDefault("log.max_age", 30)
}

// Get 获取全局配置
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Watch 监听配置文件变化，重新解析后回调；日志级别立即生效
func Watch(onChange func(*Config)) {
	mu.RLock()
	nv := v
	mu.RUnlock()
	if nv == nil {
		return
	}

	nv.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(nv)
		if err != nil {
			logger.Errorf("Reload config %s failed: %v", e.Name, err)
			return
		}
		mu.Lock()
		globalConfig = cfg
		mu.Unlock()

		logger.SetLevel(cfg.Log.Level)
		logger.Infof("Config reloaded from %s (%s)", e.Name, e.Op)
		if onChange != nil {
			onChange(cfg)
		}
	})
	nv.WatchConfig()
}

// expandEnv 将 "${NAME}" 形式的值替换为环境变量，未设置时保持原值
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		name := strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")
		if value := os.Getenv(name); value != "" {
			return value
		}
	}
	return s
}

// replaceEnvVars 替换配置中的环境变量（密码与密钥）
func replaceEnvVars(cfg *Config) {
	for i := range cfg.Targets {
		cfg.Targets[i].Password = expandEnv(cfg.Targets[i].Password)
		cfg.Targets[i].Username = expandEnv(cfg.Targets[i].Username)
	}
	cfg.Storage.Minio.AccessKey = expandEnv(cfg.Storage.Minio.AccessKey)
	cfg.Storage.Minio.SecretKey = expandEnv(cfg.Storage.Minio.SecretKey)
}

// applyConcurrencyProfile 根据并发档位设置并发数（覆盖 Runner.Concurrent）
func applyConcurrencyProfile(cfg *Config) {
	p := strings.ToUpper(strings.TrimSpace(cfg.Runner.ConcurrencyProfile))
	if p == "" {
		return
	}
	// 兼容 "Concurrency-S" 形式
	p = strings.TrimPrefix(p, "CONCURRENCY-")
	for k, n := range cfg.Runner.ConcurrencyProfiles {
		if strings.ToUpper(k) == p && n > 0 {
			cfg.Runner.Concurrent = n
			return
		}
	}
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LoggerConfig 转换为日志配置
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		Output:     c.Log.Output,
		FilePath:   c.Log.FilePath,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAge,
		Compress:   c.Log.Compress,
	}
}

// SessionOptions 转换为会话参数
func (c *Config) SessionOptions() expect.Options {
	return expect.Options{
		Terminator:     c.Expect.Terminator,
		WaitTimeout:    c.Expect.WaitTimeout,
		ConnectTimeout: c.Expect.ConnectTimeout,
		CommandTimeout: c.Expect.CommandTimeout,
		SettleWait:     c.Expect.SettleWait,
		PTYHeight:      c.Expect.PTYHeight,
		PollInterval:   c.Expect.PollInterval,
		Encoding:       c.Expect.Encoding,
		SSH: &sshc.Config{
			Timeout:   c.SSH.DialTimeout + c.SSH.AuthTimeout,
			KeepAlive: c.SSH.KeepAlive,
			TermWidth: c.SSH.TermWidth,
		},
	}
}

// SessionPoolConfig 转换为会话池配置
func (c *Config) SessionPoolConfig() expect.PoolConfig {
	return expect.PoolConfig{
		MaxIdle:         c.Pool.MaxIdle,
		MaxActive:       c.Pool.MaxActive,
		IdleTimeout:     c.Pool.IdleTimeout,
		CleanupInterval: c.Pool.CleanupInterval,
		Session:         c.SessionOptions(),
	}
}

// ConnectionInfo 目标连接信息
func (t TargetConfig) ConnectionInfo() *sshc.ConnectionInfo {
	return &sshc.ConnectionInfo{
		Host:     t.Host,
		Port:     t.Port,
		Username: t.Username,
		Password: t.Password,
	}
}

// Target 按名称或主机查找预置目标
func (c *Config) Target(name string) (TargetConfig, bool) {
	for _, t := range c.Targets {
		if t.Name == name || t.Host == name {
			return t, true
		}
	}
	return TargetConfig{}, false
}
