package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host               string
		Addr               string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
		NonceTTL time.Duration
	}

	// ProgressConfig holds the tunables of the tracking engine.
	ProgressConfig struct {
		SessionCap      time.Duration // upper bound of time credited by a single ping
		DedupeWindow    time.Duration // pings inside this window with no fresh data are retries
		ClockSkew       time.Duration // tolerated drift of client-supplied timestamps
		MasteryScore    float64       // SCORM score (0-100) counted as mastery
		PlayedThreshold float64       // video/audio played percentage (0-100)
		MinEngagement   time.Duration // external content
		MinDocumentView time.Duration
	}

	Config struct {
		Debug            bool
		TestMode         bool
		Env              string
		Build            string
		AppName          string
		SecretKey        string
		RollbarToken     string
		SendgridAPIKey   string
		DefaultFromEmail mail.Address
		FrontendBaseURL  string
		WorkDir          string

		Server   ServerConfig
		Database DatabaseConfig
		Redis    RedisConfig
		Progress ProgressConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// NewConfig loads the configuration of the current environment (ENV: DEV (default), TEST, QA, PROD).
// Values are read from `<ENV>_<KEY>` environment variables, optionally seeded by config/.env.<env>.
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Suivi")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("defaultFromName", "Suivi")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("frontendBaseURL", "http://localhost:8080")

	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddr", ":8000")
	v.SetDefault("debugHost", "localhost:4000")
	v.SetDefault("shutdownTimeout", 5*time.Second)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbName", "suivi")
	v.SetDefault("dbUser", "suivi")
	v.SetDefault("dbPassword", "")
	v.SetDefault("dbAdminUser", "")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("redisAddr", "")
	v.SetDefault("redisPassword", "")
	v.SetDefault("redisDB", 0)
	v.SetDefault("nonceTTL", 10*time.Minute)

	v.SetDefault("sessionCap", 15*time.Minute)
	v.SetDefault("dedupeWindow", 2*time.Second)
	v.SetDefault("clockSkew", 5*time.Second)
	v.SetDefault("masteryScore", 80.0)
	v.SetDefault("playedThreshold", 90.0)
	v.SetDefault("minEngagement", 30*time.Second)
	v.SetDefault("minDocumentView", time.Minute)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Debug:          v.GetBool("debug"),
		TestMode:       v.GetBool("testMode"),
		Env:            env,
		Build:          v.GetString("build"),
		AppName:        v.GetString("appName"),
		SecretKey:      v.GetString("secretKey"),
		RollbarToken:   v.GetString("rollbarToken"),
		SendgridAPIKey: v.GetString("sendgridApiKey"),
		DefaultFromEmail: mail.Address{
			Name:    v.GetString("defaultFromName"),
			Address: v.GetString("defaultFromEmail"),
		},
		FrontendBaseURL: v.GetString("frontendBaseURL"),
		WorkDir:         wd,
		Server: ServerConfig{
			Host:               v.GetString("serverHost"),
			Addr:               v.GetString("serverAddr"),
			DebugHost:          v.GetString("debugHost"),
			ShutdownTimeout:    v.GetDuration("shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redisAddr"),
			Password: v.GetString("redisPassword"),
			DB:       v.GetInt("redisDB"),
			NonceTTL: v.GetDuration("nonceTTL"),
		},
		Progress: ProgressConfig{
			SessionCap:      v.GetDuration("sessionCap"),
			DedupeWindow:    v.GetDuration("dedupeWindow"),
			ClockSkew:       v.GetDuration("clockSkew"),
			MasteryScore:    v.GetFloat64("masteryScore"),
			PlayedThreshold: v.GetFloat64("playedThreshold"),
			MinEngagement:   v.GetDuration("minEngagement"),
			MinDocumentView: v.GetDuration("minDocumentView"),
		},
	}
}
