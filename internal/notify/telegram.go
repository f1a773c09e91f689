package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "schoolbell/pkg/logx"
)

const (
	DefaultPollTimeout = 10 * time.Second

	telegramTextLimit = 4096
)

type TelegramConfig struct {
	Token       string
	ChatID      int64
	ThreadID    int
	PollTimeout time.Duration
}

// StatusFunc renders the controller status for the /status command.
type StatusFunc func() string

// Telegram sends to one chat and answers read-only commands from it.
type Telegram struct {
	cfg  TelegramConfig
	log  logx.Logger
	bot  *tele.Bot
	chat *tele.Chat

	runMu   sync.Mutex
	running bool
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{cfg: cfg, log: log, bot: b, chat: &tele.Chat{ID: cfg.ChatID}}, nil
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(text) > telegramTextLimit {
		text = text[:telegramTextLimit]
	}
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{
		ThreadID:              t.cfg.ThreadID,
		DisableWebPagePreview: true,
	})
	return err
}

// HandleCommands registers /status and /schedule. Messages from other chats
// are ignored.
func (t *Telegram) HandleCommands(status, schedule StatusFunc) {
	reply := func(render StatusFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if c.Chat() == nil || c.Chat().ID != t.cfg.ChatID {
				return nil
			}
			return c.Send(render(), &tele.SendOptions{ThreadID: t.cfg.ThreadID})
		}
	}
	if status != nil {
		t.bot.Handle("/status", reply(status))
	}
	if schedule != nil {
		t.bot.Handle("/schedule", reply(schedule))
	}
}

// Poll runs the long poller until ctx ends.
func (t *Telegram) Poll(ctx context.Context) error {
	t.runMu.Lock()
	if t.running {
		t.runMu.Unlock()
		return fmt.Errorf("telegram poller already running")
	}
	t.running = true
	t.runMu.Unlock()
	defer func() {
		t.runMu.Lock()
		t.running = false
		t.runMu.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.bot.Start()
	}()
	t.log.Info("telegram poller started", logx.Int64("chat_id", t.cfg.ChatID))

	select {
	case <-ctx.Done():
		t.bot.Stop()
		<-done
		return nil
	case <-done:
		if ctx.Err() != nil {
			return nil
		}
		return errors.New("telegram poller exited unexpectedly")
	}
}
