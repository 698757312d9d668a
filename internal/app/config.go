package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coursetrail/coursetrail-backend/internal/logger"
	"github.com/coursetrail/coursetrail-backend/internal/ratelimit"
	"github.com/coursetrail/coursetrail-backend/internal/utils"
)

type Config struct {
	ServiceName         string
	Environment         string
	JWTSecretKey        string
	AllowOrigins        []string
	RateLimit           ratelimit.Config
	MilestoneThresholds []int
}

// tunables is the optional YAML overlay for operational knobs; env vars and
// defaults cover everything when no file is configured.
type tunables struct {
	RateLimit struct {
		Limit         int `yaml:"limit"`
		WindowSeconds int `yaml:"window_seconds"`
	} `yaml:"rate_limit"`
	MilestoneThresholds []int `yaml:"milestone_thresholds"`
}

func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{
		ServiceName:  utils.GetEnv("SERVICE_NAME", "coursetrail", log),
		Environment:  utils.GetEnv("ENVIRONMENT", "development", log),
		JWTSecretKey: utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log),
		RateLimit: ratelimit.Config{
			Limit:  utils.GetEnvAsInt("RATE_LIMIT_MAX", 60, log),
			Window: utils.GetEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute, log),
			Prefix: "ratelimit",
		},
	}

	origins := utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000", log)
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowOrigins = append(cfg.AllowOrigins, o)
		}
	}

	path := strings.TrimSpace(utils.GetEnv("CONFIG_FILE", "", log))
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		var t tunables
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
		if t.RateLimit.Limit > 0 {
			cfg.RateLimit.Limit = t.RateLimit.Limit
		}
		if t.RateLimit.WindowSeconds > 0 {
			cfg.RateLimit.Window = time.Duration(t.RateLimit.WindowSeconds) * time.Second
		}
		if len(t.MilestoneThresholds) > 0 {
			cfg.MilestoneThresholds = t.MilestoneThresholds
		}
	}
	return cfg, nil
}
