package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"music-studio-bot/api/internal/logging"
	"music-studio-bot/api/internal/metrics"
	"music-studio-bot/api/internal/session"
)

// Dispatcher принимает сообщения в обработку. *session.Dispatcher подходит.
type Dispatcher interface {
	Dispatch(ctx context.Context, upd session.Update) error
}

// convert достаёт из обновления то, что нужно сессии. Обновления без сообщения
// (правки, callback'и, служебные) пропускаются.
func convert(upd tgbotapi.Update) (session.Update, bool) {
	if upd.Message == nil || upd.Message.Chat == nil {
		metrics.UpdatesReceived.WithLabelValues("skipped").Inc()
		return session.Update{}, false
	}
	kind := "text"
	if strings.TrimSpace(upd.Message.Text) == "" {
		kind = "no_text"
	}
	metrics.UpdatesReceived.WithLabelValues(kind).Inc()
	return session.Update{
		ID:     upd.UpdateID,
		ChatID: upd.Message.Chat.ID,
		Text:   upd.Message.Text,
	}, true
}

// ---------------- Polling -----------------

const (
	pollBaseDelay = 1 * time.Second
	pollMaxDelay  = 15 * time.Second
	pollIdleDelay = 200 * time.Millisecond
)

// Poller — long polling getUpdates. Курсор сдвигается на UpdateID+1 для каждого
// обновления, в том числе пропущенного, и переживает перезапуск сервиса.
type Poller struct {
	bot      BotAPI
	dispatch Dispatcher
	timeout  int
	offset   int
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewPoller(bot BotAPI, d Dispatcher, timeoutSec int) *Poller {
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	return &Poller{bot: bot, dispatch: d, timeout: timeoutSec, sleep: sleepCtx}
}

// Offset — следующий ожидаемый update_id.
func (p *Poller) Offset() int { return p.offset }

func (p *Poller) Serve(ctx context.Context) error {
	// getUpdates не работает, пока установлен webhook
	if _, err := p.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		logging.Warn().Err(err).Msg("deleteWebhook failed")
	}
	logging.Info().Int("offset", p.offset).Int("timeout", p.timeout).Msg("polling started")

	for {
		if err := ctx.Err(); err != nil {
			logging.Info().Msg("polling: context cancelled")
			return err
		}

		u := tgbotapi.NewUpdate(p.offset)
		u.Timeout = p.timeout

		updates, err := p.bot.GetUpdates(u)
		if err != nil {
			metrics.PollErrors.Inc()
			d := min(max(retryDelayFromError(err), pollBaseDelay), pollMaxDelay)
			logging.Warn().Err(err).Dur("retry_in", d).Msg("polling error")
			if err := p.sleep(ctx, d); err != nil {
				return err
			}
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= p.offset {
				p.offset = upd.UpdateID + 1
			}
			su, ok := convert(upd)
			if !ok {
				continue
			}
			if err := p.dispatch.Dispatch(ctx, su); err != nil {
				return err
			}
		}

		if len(updates) == 0 {
			if err := p.sleep(ctx, pollIdleDelay); err != nil {
				return err
			}
		}
	}
}

func (p *Poller) String() string { return "telegram-poller" }

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		return time.Duration(tgErr.RetryAfter) * time.Second
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") { // HTTP 429 от Telegram
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 1 * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ---------------- Webhook -----------------

// Webhook принимает обновления от Telegram по HTTP и передаёт их в Dispatcher.
// Telegram шлёт обновления по одному соединению (max_connections=1), порядок сохраняется очередью.
type Webhook struct {
	dispatch Dispatcher
}

func NewWebhook(d Dispatcher) *Webhook { return &Webhook{dispatch: d} }

func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var upd tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		logging.Warn().Err(err).Msg("webhook: bad update")
		http.Error(rw, "bad update", http.StatusBadRequest)
		return
	}
	if su, ok := convert(upd); ok {
		if err := w.dispatch.Dispatch(r.Context(), su); err != nil {
			// Telegram повторит доставку
			http.Error(rw, "busy", http.StatusServiceUnavailable)
			return
		}
	}
	rw.WriteHeader(http.StatusOK)
}

// WebhookPath — секретный путь вебхука, производный от токена.
func WebhookPath(token string) string { return "/webhook/" + shortHash(token) }

// RegisterWebhook сообщает Telegram публичный адрес вебхука.
func RegisterWebhook(bot BotAPI, baseURL, path string) error {
	public := strings.TrimRight(baseURL, "/") + path
	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		return err
	}
	wh.DropPendingUpdates = true
	wh.MaxConnections = 1
	_, err = bot.Request(wh)
	return err
}

func shortHash(s string) string {
	// FNV-1a: стабильно для токена, не крипто
	h := uint64(1469598103934665603)
	const prime = 1099511628211
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = hexdigits[h&0xF]
		h >>= 4
	}
	return string(out)
}
