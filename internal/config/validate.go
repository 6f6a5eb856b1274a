package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks cross-field constraints that the strict decoder cannot.
// It is also the hot-reload gate: a config that fails here is rejected
// without touching the running service.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	if c.Journal != nil {
		if _, err := ParseDurationField("journal.busy_timeout", c.Journal.BusyTimeout); err != nil {
			return err
		}
	}

	if c.Report != nil && c.Report.RatePerSec < 0 {
		return fmt.Errorf("report.rate_per_sec: must be >= 0")
	}

	seen := map[string]struct{}{}
	for i, em := range c.Emitters {
		where := fmt.Sprintf("emitters[%d]", i)
		if strings.TrimSpace(em.Name) == "" {
			return fmt.Errorf("%s.name: required", where)
		}
		if strings.TrimSpace(em.Schedule) == "" {
			return fmt.Errorf("%s.schedule: required", where)
		}
		if strings.TrimSpace(em.Event) == "" {
			return fmt.Errorf("%s.event: required", where)
		}
		if _, dup := seen[em.Name]; dup {
			return fmt.Errorf("%s.name: duplicate %q", where, em.Name)
		}
		seen[em.Name] = struct{}{}
	}

	if c.Telegram != nil && c.Telegram.Enabled {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token: required when enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id: required when enabled")
		}
		if len(c.Telegram.Events) == 0 {
			return fmt.Errorf("telegram.events: at least one event required")
		}
		if _, err := ParseDurationField("telegram.ttl", c.Telegram.TTL); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}

	return nil
}
