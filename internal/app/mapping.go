package app

import (
	"time"

	"beacon/internal/config"
	"beacon/internal/journal"
	"beacon/internal/ops"
	"beacon/internal/schedule"
	telegram "beacon/internal/sinks/telegram"
	"beacon/pkg/logx"
)

func mapLogxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	if cfg.Ops == nil {
		return ops.Config{}
	}
	return ops.Config{
		Enabled:              cfg.Ops.Enabled,
		Address:              cfg.Ops.Address,
		BlockProfileRate:     cfg.Ops.BlockProfileRate,
		MutexProfileFraction: cfg.Ops.MutexProfileFraction,
	}
}

func mapJournalConfig(cfg *config.Config) (journal.Config, error) {
	if cfg.Journal == nil {
		return journal.Config{}, nil
	}
	busy, err := config.ParseDurationOrDefault("journal.busy_timeout", cfg.Journal.BusyTimeout, 5*time.Second)
	if err != nil {
		return journal.Config{}, err
	}
	return journal.Config{
		Driver:      cfg.Journal.Driver,
		Path:        cfg.Journal.Path,
		BusyTimeout: busy,
	}, nil
}

func mapEmitters(cfg *config.Config) []schedule.Emitter {
	ems := make([]schedule.Emitter, 0, len(cfg.Emitters))
	for _, ec := range cfg.Emitters {
		args := make([]any, len(ec.Args))
		for i, a := range ec.Args {
			args[i] = a
		}
		ems = append(ems, schedule.Emitter{
			Name:  ec.Name,
			Spec:  ec.Schedule,
			Event: ec.Event,
			Args:  args,
		})
	}
	return ems
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, time.Duration, error) {
	if cfg.Telegram == nil || !cfg.Telegram.Enabled {
		return telegram.Config{}, 0, nil
	}
	ttl, err := config.ParseDurationField("telegram.ttl", cfg.Telegram.TTL)
	if err != nil {
		return telegram.Config{}, 0, err
	}
	return telegram.Config{
		Token:      cfg.Telegram.Token,
		ChatID:     cfg.Telegram.ChatID,
		RatePerSec: float64(cfg.Telegram.RatePerSec),
	}, ttl, nil
}

func reportRate(cfg *config.Config) int {
	if cfg.Report == nil {
		return 0
	}
	return cfg.Report.RatePerSec
}
