package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type HTTP struct {
	Host            string
	Port            int
	ReadTimeoutSec  int
	WriteTimeoutSec int
	IdleTimeoutSec  int
}

type AdminHTTP struct {
	Host string
	Port int
}

type App struct {
	Name    string
	Env     string
	BaseURL string // 邮件里验证链接的前缀
	HTTP    HTTP
	Admin   AdminHTTP
}

type LogFile struct {
	Enable     bool
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type Log struct {
	Level string
	JSON  bool
	File  LogFile
}

type Cookie struct {
	Domain   string
	Secure   bool
	SameSite string // lax / strict / none
}

type JWT struct {
	Secret             string
	Issuer             string
	AccessTokenTTLMin  int
	RefreshTokenTTLDay int
	Cookie             Cookie
}

type QR struct {
	Secret string
	TTLMin int
}

type OTP struct {
	TTLMin        int
	VerifyTTLHour int
	RateLimit     int
	RateWindowSec int
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DB struct {
	Driver             string // postgres / mysql / memory
	DSN                string
	Username           string
	Password           string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeMin int
	AutoMigrate        bool
	LogLevel           string
}

type Mail struct {
	Host     string // 为空时只打日志
	Port     int
	Username string
	Password string
	From     string
}

type Limits struct {
	RPS         float64
	Burst       int
	PerIPRPS    float64
	PerIPBurst  int
	Concurrency int64
	MaxBodyMB   int64
	TimeoutSec  int
}

type Worker struct {
	ReservationTTLMin int // 0 关闭过期清理
	SweepIntervalSec  int
}

type Tracing struct {
	Endpoint string // otlp http，例如 localhost:4318；为空则不启用
}

type CORS struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type Config struct {
	App     App
	Log     Log
	JWT     JWT
	QR      QR
	OTP     OTP
	DB      DB
	Redis   Redis `mapstructure:"redis"`
	Mail    Mail
	Limits  Limits
	Worker  Worker
	Tracing Tracing
	CORS    CORS `mapstructure:"cors"`
}

func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.JWT.AccessTokenTTLMin) * time.Minute
}

func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.JWT.RefreshTokenTTLDay) * 24 * time.Hour
}

func (c *Config) Production() bool { return c.App.Env == "production" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ez-parking")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.baseurl", "http://localhost:8080")
	v.SetDefault("app.http.host", "0.0.0.0")
	v.SetDefault("app.http.port", 8080)
	v.SetDefault("app.http.readtimeoutsec", 5)
	v.SetDefault("app.http.writetimeoutsec", 15)
	v.SetDefault("app.http.idletimeoutsec", 60)
	v.SetDefault("app.admin.host", "127.0.0.1")
	v.SetDefault("app.admin.port", 8081)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file.filename", "logs/ez-parking.log")
	v.SetDefault("log.file.maxsizemb", 100)
	v.SetDefault("log.file.maxbackups", 7)
	v.SetDefault("log.file.maxagedays", 30)

	v.SetDefault("jwt.issuer", "ez-parking")
	v.SetDefault("jwt.accesstokenttlmin", 15)
	v.SetDefault("jwt.refreshtokenttlday", 30)
	v.SetDefault("jwt.cookie.samesite", "lax")

	v.SetDefault("qr.ttlmin", 30)

	v.SetDefault("otp.ttlmin", 5)
	v.SetDefault("otp.verifyttlhour", 24)
	v.SetDefault("otp.ratelimit", 5)
	v.SetDefault("otp.ratewindowsec", 600)

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.maxopenconns", 50)
	v.SetDefault("db.maxidleconns", 10)
	v.SetDefault("db.connmaxlifetimemin", 30)
	v.SetDefault("db.loglevel", "warn")

	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.from", "no-reply@ez-parking.local")

	v.SetDefault("limits.rps", 200)
	v.SetDefault("limits.burst", 400)
	v.SetDefault("limits.periprps", 20)
	v.SetDefault("limits.peripburst", 40)
	v.SetDefault("limits.concurrency", 300)
	v.SetDefault("limits.maxbodymb", 16)
	v.SetDefault("limits.timeoutsec", 10)

	v.SetDefault("worker.reservationttlmin", 60)
	v.SetDefault("worker.sweepintervalsec", 60)

	// 只在环境变量里给的 key 也要先登记，否则 Unmarshal 读不到
	for _, k := range []string{
		"jwt.secret", "qr.secret", "db.dsn", "db.username", "db.password",
		"redis.addr", "redis.password", "mail.host", "mail.username", "mail.password",
		"tracing.endpoint",
	} {
		v.SetDefault(k, "")
	}
}

// Read 读取并校验配置，不退出进程
func Read(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
		if path == "" {
			path = "./configs/config.local.yaml"
		}
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load 启动期使用，失败直接退出
func Load(path string) *Config {
	c, err := Read(path)
	if err != nil {
		log.Fatalf("%v", err)
	}
	return c
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("config: jwt.secret is required")
	}
	if c.QR.Secret == "" {
		c.QR.Secret = c.JWT.Secret + ":qr"
	}
	switch c.DB.Driver {
	case "postgres", "mysql", "memory":
	default:
		return fmt.Errorf("config: unsupported db.driver %q", c.DB.Driver)
	}
	if c.DB.Driver != "memory" && c.DB.DSN == "" {
		return fmt.Errorf("config: db.dsn is required for %s", c.DB.Driver)
	}
	return nil
}
