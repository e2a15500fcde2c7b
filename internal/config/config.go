// Package config reads settings from defaults, an optional .env file and
// CHAPTERQUIZ_* environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "CHAPTERQUIZ"

type Config struct {
	// Service side.
	Addr     string
	DBPath   string
	SeedFile string

	// Client side.
	ServerURL       string
	ChapterID       string
	StoreBackend    string
	StorePath       string
	RedisURL        string
	RedisTTL        time.Duration
	MaxQuestions    int
	CreateIfMissing bool
	QuestionCount   int
	HTTPTimeout     time.Duration

	LogLevel  string
	LogFormat string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	v.SetDefault("addr", ":8080")
	v.SetDefault("db.path", "chapterquiz.db")
	v.SetDefault("seed.file", "")

	v.SetDefault("server.url", "http://127.0.0.1:8080")
	v.SetDefault("chapter", "")
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.path", "chapterquiz-progress.db")
	v.SetDefault("store.redis_url", "redis://127.0.0.1:6379/0")
	v.SetDefault("store.redis_ttl", 7*24*time.Hour)
	v.SetDefault("quiz.max_questions", 10)
	v.SetDefault("quiz.create_if_missing", false)
	v.SetDefault("quiz.question_count", 10)
	v.SetDefault("http.timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. dotEnvPath is optional; a missing file is
// ignored, an unreadable one is an error. Variables already present in the
// environment win over the file.
func Load(dotEnvPath string) (Config, error) {
	if dotEnvPath != "" {
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				return Config{}, errors.Wrapf(err, "load %s", dotEnvPath)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, errors.Wrapf(err, "stat %s", dotEnvPath)
		}
	}

	v := newViper()
	cfg := Config{
		Addr:            v.GetString("addr"),
		DBPath:          v.GetString("db.path"),
		SeedFile:        v.GetString("seed.file"),
		ServerURL:       v.GetString("server.url"),
		ChapterID:       v.GetString("chapter"),
		StoreBackend:    strings.ToLower(v.GetString("store.backend")),
		StorePath:       v.GetString("store.path"),
		RedisURL:        v.GetString("store.redis_url"),
		RedisTTL:        v.GetDuration("store.redis_ttl"),
		MaxQuestions:    v.GetInt("quiz.max_questions"),
		CreateIfMissing: v.GetBool("quiz.create_if_missing"),
		QuestionCount:   v.GetInt("quiz.question_count"),
		HTTPTimeout:     v.GetDuration("http.timeout"),
		LogLevel:        v.GetString("log.level"),
		LogFormat:       v.GetString("log.format"),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case "memory", "sqlite", "redis":
	default:
		return errors.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.MaxQuestions <= 0 {
		return errors.New("quiz.max_questions must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("http.timeout must be positive")
	}
	return nil
}
