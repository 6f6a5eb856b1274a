package telegram

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"beacon/pkg/logx"
	"beacon/pkg/notify"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

const telegramTextLimit = 4096

type Config struct {
	Token string
	// ChatID is the destination chat (negative for groups/channels).
	ChatID int64
	// RatePerSec caps outgoing messages. Zero or negative disables the cap.
	RatePerSec  float64
	PollTimeout time.Duration
}

// sender is the slice of the telebot API the sink needs. Tests inject a fake.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Sink sends one message per dispatched event. Sends that exceed the
// configured rate are dropped and counted rather than queued, so a noisy
// event cannot stall dispatch behind Telegram flood control.
type Sink struct {
	cfg   Config
	log   logx.Logger
	bot   sender
	limit *rate.Limiter

	mu       sync.Mutex
	releases []notify.ReleaseFunc
	closed   bool
	dropped  uint64
}

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return newWithSender(cfg, log, b), nil
}

func newWithSender(cfg Config, log logx.Logger, bot sender) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	var limit *rate.Limiter
	if cfg.RatePerSec > 0 {
		limit = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return &Sink{cfg: cfg, log: log, bot: bot, limit: limit}
}

// HandleEvent formats the event and its arguments into a single message.
// A send dropped by the rate cap is not an error: the sink logs it and
// moves on so the failure reporter is reserved for real delivery faults.
func (s *Sink) HandleEvent(event string, args []any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.limit != nil && !s.limit.Allow() {
		s.mu.Lock()
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		s.log.Debug("telegram send dropped by rate cap",
			logx.String("event", event), logx.Uint64("dropped_total", n))
		return nil
	}

	text := formatMessage(event, args)
	chat := &tele.Chat{ID: s.cfg.ChatID}
	if _, err := s.bot.Send(chat, text, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// RegisterCleanup collects the release handle for a hub registration.
// If Close already ran the handle is invoked immediately.
func (s *Sink) RegisterCleanup(release func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		release()
		return
	}
	s.releases = append(s.releases, release)
	s.mu.Unlock()
}

// Close detaches the sink from every hub it was registered on. Safe to
// call more than once.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	releases := s.releases
	s.releases = nil
	s.mu.Unlock()

	for _, release := range releases {
		release()
	}
}

// Dropped reports how many sends the rate cap discarded.
func (s *Sink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func formatMessage(event string, args []any) string {
	var b strings.Builder
	b.WriteString(event)
	for _, a := range args {
		b.WriteByte(' ')
		fmt.Fprint(&b, a)
	}
	text := b.String()
	// Telegram's limit counts characters. Truncating on a rune boundary
	// also keeps the payload valid UTF-8, which the Bot API requires.
	if utf8.RuneCountInString(text) > telegramTextLimit {
		rs := []rune(text)
		text = string(rs[:telegramTextLimit])
	}
	return text
}
