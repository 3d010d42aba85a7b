// Package session — конечный автомат опроса для каждого чата:
// Idle -> MenuShown -> InQuiz(step) -> Completed/Stopped -> Idle.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"music-studio-bot/api/internal/expert"
	"music-studio-bot/api/internal/locale"
	"music-studio-bot/api/internal/logging"
	"music-studio-bot/api/internal/metrics"
	"music-studio-bot/api/internal/store"
)

// Update — входящее сообщение. Пустой Text означает, что текста нет (фото, стикер и т.п.).
type Update struct {
	ID     int
	ChatID int64
	Text   string
}

// Keyboard — варианты ответа под сообщением либо команда убрать клавиатуру.
// Как это кодируется, решает транспорт.
type Keyboard struct {
	Options []string
	Remove  bool
}

func Buttons(labels []string) *Keyboard { return &Keyboard{Options: labels} }

func RemoveKeyboard() *Keyboard { return &Keyboard{Remove: true} }

// Sender — исходящая сторона транспорта.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, kb *Keyboard) error
	SendImage(ctx context.Context, chatID int64, imageRef, caption string) error
}

// ModelFactory строит свежую экспертную модель для категории. *catalog.Loader подходит.
type ModelFactory interface {
	NewModel(key string, rates expert.Rates) (*expert.Model, error)
}

// History — журнал итогов. *store.ResultRepo подходит.
type History interface {
	Save(ctx context.Context, res store.QuizResult) error
	RecentByChat(ctx context.Context, chatID int64, limit int) ([]store.QuizResult, error)
}

type State int

const (
	StateIdle State = iota
	StateMenuShown
	StateInQuiz
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMenuShown:
		return "menu_shown"
	case StateInQuiz:
		return "in_quiz"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const historyLimit = 5

type Options struct {
	Rates           expert.Rates
	DefaultLanguage locale.Tag
	History         History // nil — история отключена
}

// Manager хранит сессии по chat id. Одну сессию одновременно обрабатывает один воркер
// (см. Dispatcher), общий у чатов только сам map.
type Manager struct {
	sender  Sender
	models  ModelFactory
	history History
	rates   expert.Rates
	lang    locale.Tag

	sessions sync.Map // chatID -> *chat
}

type chat struct {
	mu        sync.Mutex
	id        int64
	lang      locale.Tag
	menuShown bool
	quiz      *quiz
	removed   bool // запись уже удалена из sessions
}

type quiz struct {
	category string
	model    *expert.Model
	step     int
	answers  []string
	started  time.Time
}

func NewManager(sender Sender, models ModelFactory, opts Options) *Manager {
	lang := opts.DefaultLanguage
	if _, ok := locale.ParseTag(string(lang)); !ok {
		lang = locale.Default
	}
	return &Manager{
		sender:  sender,
		models:  models,
		history: opts.History,
		rates:   opts.Rates,
		lang:    lang,
	}
}

// State возвращает состояние чата и, внутри опроса, номер текущего вопроса (с 0).
func (m *Manager) State(chatID int64) (State, int) {
	v, ok := m.sessions.Load(chatID)
	if !ok {
		return StateIdle, 0
	}
	c := v.(*chat)
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.quiz != nil:
		return StateInQuiz, c.quiz.step
	case c.menuShown:
		return StateMenuShown, 0
	default:
		return StateIdle, 0
	}
}

// Language — язык навигации чата.
func (m *Manager) Language(chatID int64) locale.Tag {
	v, ok := m.sessions.Load(chatID)
	if !ok {
		return m.lang
	}
	c := v.(*chat)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lang
}

func (m *Manager) chat(chatID int64) *chat {
	if v, ok := m.sessions.Load(chatID); ok {
		return v.(*chat)
	}
	v, _ := m.sessions.LoadOrStore(chatID, &chat{id: chatID, lang: m.lang})
	return v.(*chat)
}

// lockChat возвращает захваченную запись чата, пропуская уже удалённые.
func (m *Manager) lockChat(chatID int64) *chat {
	for {
		c := m.chat(chatID)
		c.mu.Lock()
		if !c.removed {
			return c
		}
		c.mu.Unlock()
	}
}

// release удаляет запись, если в ней не осталось ничего, кроме значений по умолчанию.
// Вызывается под c.mu.
func (m *Manager) release(c *chat) {
	if c.quiz != nil || c.menuShown || c.lang != m.lang {
		return
	}
	c.removed = true
	m.sessions.CompareAndDelete(c.id, c)
}

// Handle применяет одно сообщение к сессии его чата.
// Ошибки отправки логируются и состояние не меняют.
func (m *Manager) Handle(ctx context.Context, upd Update) {
	c := m.lockChat(upd.ChatID)
	defer c.mu.Unlock()
	defer m.release(c)

	l := locale.Get(c.lang)
	text := strings.TrimSpace(upd.Text)
	if text == "" {
		m.sendText(ctx, c, l.NoText, nil)
		return
	}

	cmd, isCmd := parseCommand(text)
	if c.quiz != nil {
		m.handleQuiz(ctx, c, text, cmd, isCmd)
		return
	}
	if isCmd {
		m.handleCommand(ctx, c, cmd)
		return
	}
	if tag, ok := locale.ParseLanguage(text); ok {
		c.lang = tag
		m.sendText(ctx, c, locale.Get(tag).Done, RemoveKeyboard())
		return
	}
	if key, ok := l.CategoryKey(text); ok {
		m.startQuiz(ctx, c, key)
		return
	}
	m.log(c).Debug().Str("text", text).Msg("unrecognized input ignored")
}

func (m *Manager) handleCommand(ctx context.Context, c *chat, cmd string) {
	l := locale.Get(c.lang)
	switch cmd {
	case "start":
		m.sendText(ctx, c, l.Start, RemoveKeyboard())
	case "help":
		m.sendText(ctx, c, l.Help, nil)
	case "menu":
		c.menuShown = true
		m.sendText(ctx, c, l.Menu, Buttons(l.CategoryLabels()))
	case "settings":
		m.sendText(ctx, c, l.Settings, Buttons(locale.LanguageButtons()))
	case "history":
		m.sendHistory(ctx, c)
	default:
		m.log(c).Debug().Str("command", cmd).Msg("unknown command ignored")
	}
}

func (m *Manager) startQuiz(ctx context.Context, c *chat, key string) {
	l := locale.Get(c.lang)
	model, err := m.models.NewModel(key, m.rates)
	if err != nil {
		metrics.CategoryUnavailable.WithLabelValues(key).Inc()
		m.log(c).Error().Err(err).Str("category", key).Msg("category unavailable")
		m.sendText(ctx, c, l.Unavailable, RemoveKeyboard())
		return
	}
	c.menuShown = false
	c.quiz = &quiz{category: key, model: model, started: time.Now()}
	metrics.QuizStarted(key)
	m.log(c).Info().Str("category", key).Str("model_id", model.ID()).Msg("quiz started")
	m.sendQuestion(ctx, c)
}

func (m *Manager) handleQuiz(ctx context.Context, c *chat, text, cmd string, isCmd bool) {
	l := locale.Get(c.lang)
	q := c.quiz

	if isCmd {
		if cmd == "stop" {
			m.finish(ctx, c, metrics.OutcomeStopped, nil)
			m.sendText(ctx, c, l.Done, RemoveKeyboard())
			return
		}
		m.sendText(ctx, c, l.NotAvailable, nil)
		m.sendQuestion(ctx, c)
		return
	}

	answer, ok := l.ParseAnswer(text)
	if !ok {
		m.log(c).Debug().Str("text", text).Int("step", q.step).Msg("not an answer, ignored")
		return
	}

	if err := q.model.HandleAnswer(q.step, answer); err != nil {
		var calc *expert.CalculationError
		if errors.As(err, &calc) {
			m.log(c).Error().Err(err).Str("model_id", q.model.ID()).Int("candidate_id", calc.CandidateID).Msg("quiz failed")
		} else {
			m.log(c).Error().Err(err).Str("model_id", q.model.ID()).Msg("quiz failed")
		}
		m.finish(ctx, c, metrics.OutcomeFailed, nil)
		m.sendText(ctx, c, l.QuizFailed, RemoveKeyboard())
		return
	}
	metrics.Answers.WithLabelValues(answer.String()).Inc()
	q.answers = append(q.answers, answer.String())
	q.step++

	if q.step < q.model.NumQuestions() {
		m.sendQuestion(ctx, c)
		return
	}

	res := q.model.Result()
	m.finish(ctx, c, metrics.OutcomeCompleted, &res)
	if res.ImageID != "" {
		caption := strings.TrimSpace(res.Producer + " " + res.Model)
		if err := m.sender.SendImage(ctx, c.id, res.ImageID, caption); err != nil {
			m.log(c).Warn().Err(err).Msg("send image failed")
		}
	}
	m.sendText(ctx, c, l.Result(res), RemoveKeyboard())
}

func (m *Manager) sendQuestion(ctx context.Context, c *chat) {
	l := locale.Get(c.lang)
	q := c.quiz
	text, ok := q.model.Question(q.step)
	if !ok {
		return
	}
	m.sendText(ctx, c, l.Question(q.step, q.model.NumQuestions(), text), Buttons(l.AnswerButtons()))
}

// finish закрывает опрос: метрики, запись в историю, сессия возвращается в Idle.
func (m *Manager) finish(ctx context.Context, c *chat, outcome string, res *expert.Candidate) {
	q := c.quiz
	c.quiz = nil
	metrics.QuizFinished(q.category, outcome)

	ev := m.log(c).Info().
		Str("category", q.category).
		Str("model_id", q.model.ID()).
		Str("outcome", outcome).
		Int("steps", q.step).
		Dur("elapsed", time.Since(q.started))
	if res != nil {
		ev = ev.Int("candidate_id", res.ID).Str("belief", res.Belief.StringFixed(4))
	}
	ev.Msg("quiz finished")

	if m.history == nil {
		return
	}
	rec := store.QuizResult{
		ChatID:   c.id,
		Category: q.category,
		Outcome:  outcome,
		Steps:    q.step,
		Answers:  q.answers,
		ModelID:  q.model.ID(),
	}
	if res != nil {
		rec.CandidateID = res.ID
		rec.Producer = res.Producer
		rec.Model = res.Model
		rec.Belief = res.Belief.String()
	}
	if err := m.history.Save(ctx, rec); err != nil {
		m.log(c).Warn().Err(err).Msg("save quiz result failed")
	}
}

func (m *Manager) sendHistory(ctx context.Context, c *chat) {
	l := locale.Get(c.lang)
	if m.history == nil {
		m.sendText(ctx, c, l.HistoryOff, nil)
		return
	}
	items, err := m.history.RecentByChat(ctx, c.id, historyLimit)
	if err != nil {
		m.log(c).Warn().Err(err).Msg("load history failed")
		m.sendText(ctx, c, l.HistoryOff, nil)
		return
	}
	if len(items) == 0 {
		m.sendText(ctx, c, l.HistoryEmpty, nil)
		return
	}
	var b strings.Builder
	b.WriteString(l.History)
	for i, it := range items {
		label := l.Categories[it.Category]
		if label == "" {
			label = it.Category
		}
		fmt.Fprintf(&b, "\n%d. %s %s (%s)", i+1, locale.Esc(it.Producer), locale.Esc(it.Model), locale.Esc(label))
	}
	m.sendText(ctx, c, b.String(), nil)
}

func (m *Manager) sendText(ctx context.Context, c *chat, text string, kb *Keyboard) {
	if err := m.sender.SendText(ctx, c.id, text, kb); err != nil {
		m.log(c).Warn().Err(err).Msg("send message failed")
	}
}

func (m *Manager) log(c *chat) *zerolog.Logger {
	l := logging.With().Int64("chat_id", c.id).Logger()
	return &l
}

// parseCommand: "/menu@MyBot extra" -> "menu", true.
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text)[0][1:]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), true
}
