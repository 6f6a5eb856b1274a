package telegram

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"beacon/pkg/logx"
	"beacon/pkg/notify"

	tele "gopkg.in/telebot.v4"
)

type fakeBot struct {
	mu    sync.Mutex
	sent  []string
	chats []int64
	err   error
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := what.(string); ok {
		f.sent = append(f.sent, s)
	}
	if c, ok := to.(*tele.Chat); ok {
		f.chats = append(f.chats, c.ID)
	}
	return &tele.Message{ID: len(f.sent)}, nil
}

func (f *fakeBot) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestHandleEventSendsFormattedMessage(t *testing.T) {
	bot := &fakeBot{}
	s := newWithSender(Config{ChatID: -100}, logx.Nop(), bot)

	if err := s.HandleEvent("deploy.finished", []any{"api", 42}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	got := bot.messages()
	if len(got) != 1 || got[0] != "deploy.finished api 42" {
		t.Fatalf("sent = %q", got)
	}
	if bot.chats[0] != -100 {
		t.Fatalf("chat = %d, want -100", bot.chats[0])
	}
}

func TestHandleEventWrapsSendErrors(t *testing.T) {
	sendErr := errors.New("boom")
	s := newWithSender(Config{ChatID: 1}, logx.Nop(), &fakeBot{err: sendErr})

	err := s.HandleEvent("x", nil)
	if !errors.Is(err, sendErr) {
		t.Fatalf("err = %v, want wrapped %v", err, sendErr)
	}
}

func TestRateCapDropsInsteadOfFailing(t *testing.T) {
	bot := &fakeBot{}
	s := newWithSender(Config{ChatID: 1, RatePerSec: 0.001}, logx.Nop(), bot)

	for i := 0; i < 5; i++ {
		if err := s.HandleEvent("noisy", nil); err != nil {
			t.Fatalf("HandleEvent #%d: %v", i, err)
		}
	}
	if got := len(bot.messages()); got != 1 {
		t.Fatalf("sent %d messages, want 1 (burst of one)", got)
	}
	if s.Dropped() != 4 {
		t.Fatalf("Dropped = %d, want 4", s.Dropped())
	}
}

func TestCloseReleasesHubRegistrations(t *testing.T) {
	hub := notify.New[string]()
	s := newWithSender(Config{ChatID: 1}, logx.Nop(), &fakeBot{})

	if _, err := hub.Register("a", s); err != nil {
		t.Fatalf("Register a: %v", err)
	}
	if _, err := hub.Register("b", s); err != nil {
		t.Fatalf("Register b: %v", err)
	}
	if n := hub.ListenerCount("a"); n != 1 {
		t.Fatalf("ListenerCount(a) = %d", n)
	}

	s.Close()
	if n := hub.ListenerCount("a") + hub.ListenerCount("b"); n != 0 {
		t.Fatalf("still registered after Close: %d", n)
	}

	// Second close is a no-op.
	s.Close()
}

func TestRegisterCleanupAfterCloseReleasesImmediately(t *testing.T) {
	s := newWithSender(Config{ChatID: 1}, logx.Nop(), &fakeBot{})
	s.Close()

	released := false
	s.RegisterCleanup(func() { released = true })
	if !released {
		t.Fatal("release not invoked for post-Close registration")
	}
}

func TestClosedSinkIgnoresEvents(t *testing.T) {
	bot := &fakeBot{}
	s := newWithSender(Config{ChatID: 1}, logx.Nop(), bot)
	s.Close()

	if err := s.HandleEvent("late", nil); err != nil {
		t.Fatalf("HandleEvent after Close: %v", err)
	}
	if len(bot.messages()) != 0 {
		t.Fatal("closed sink sent a message")
	}
}

func TestFormatMessageTruncates(t *testing.T) {
	long := strings.Repeat("x", telegramTextLimit+100)
	if got := formatMessage(long, nil); utf8.RuneCountInString(got) != telegramTextLimit {
		t.Fatalf("runes = %d, want %d", utf8.RuneCountInString(got), telegramTextLimit)
	}
}

func TestFormatMessageTruncatesOnRuneBoundary(t *testing.T) {
	// A two-byte rune straddles the old byte-wise cut point; the result
	// has to stay valid UTF-8.
	long := strings.Repeat("a", telegramTextLimit-1) + strings.Repeat("é", 60)
	got := formatMessage(long, nil)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated message is not valid UTF-8: %q", got[len(got)-8:])
	}
	if n := utf8.RuneCountInString(got); n != telegramTextLimit {
		t.Fatalf("runes = %d, want %d", n, telegramTextLimit)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{ChatID: 1}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := New(Config{Token: "t"}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty chat_id")
	}
}
