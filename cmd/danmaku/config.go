package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/omochice/live-danmaku/pkg/danmaku"
)

const envPrefix = "DANMAKU"

func addConfigFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "YAML config file")
	f.String("env-file", ".env", "dotenv file loaded before reading the environment")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.Bool("dev", false, "human readable development logging")

	f.String("transport", "ws", "transport to use: ws or tcp")
	f.String("url", danmaku.DefaultURL, "WebSocket endpoint")
	f.String("host", danmaku.DefaultHost, "TCP endpoint host")
	f.Int("port", danmaku.DefaultPort, "TCP endpoint port")
	f.Duration("heartbeat-interval", danmaku.DefaultHeartbeatInterval, "idle period between heartbeats")
	f.Duration("retry-interval", danmaku.DefaultRetryInterval, "delay before reconnecting")
	f.Duration("liveness-timeout", danmaku.DefaultLivenessTimeout, "close a session with no heartbeat reply for this long")
	f.Int64("uid", 0, "user id sent in the join request")
	f.String("key", "", "auth token sent in the join request")
	f.String("buvid", "", "device id sent in the join request")
}

// settings are the resolved command line settings.
type settings struct {
	Transport string
	Client    danmaku.Config
	Logger    *zap.Logger
}

// loadSettings merges flags, environment, the dotenv file and the config file.
func loadSettings(cmd *cobra.Command) (*settings, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	envFile := v.GetString("env-file")
	if err := godotenv.Load(envFile); err != nil {
		// only an explicitly requested file has to exist
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("env-file") {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	logger, err := newLogger(v.GetString("log-level"), v.GetBool("dev"))
	if err != nil {
		return nil, err
	}

	transport := v.GetString("transport")
	if transport != "ws" && transport != "tcp" {
		return nil, fmt.Errorf("unknown transport %q", transport)
	}

	return &settings{
		Transport: transport,
		Client: danmaku.Config{
			URL:               v.GetString("url"),
			Host:              v.GetString("host"),
			Port:              v.GetInt("port"),
			HeartbeatInterval: v.GetDuration("heartbeat-interval"),
			RetryInterval:     v.GetDuration("retry-interval"),
			LivenessTimeout:   v.GetDuration("liveness-timeout"),
			UID:               v.GetInt64("uid"),
			Key:               v.GetString("key"),
			Buvid:             v.GetString("buvid"),
			Logger:            logger,
		},
		Logger: logger,
	}, nil
}

func newLogger(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
