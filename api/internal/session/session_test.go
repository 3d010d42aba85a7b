package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"music-studio-bot/api/internal/catalog"
	"music-studio-bot/api/internal/expert"
	"music-studio-bot/api/internal/locale"
	"music-studio-bot/api/internal/metrics"
	"music-studio-bot/api/internal/store"
)

type sent struct {
	chatID  int64
	text    string
	kb      *Keyboard
	image   string
	caption string
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, text string, kb *Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{chatID: chatID, text: text, kb: kb})
	return f.err
}

func (f *fakeSender) SendImage(_ context.Context, chatID int64, imageRef, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{chatID: chatID, image: imageRef, caption: caption})
	return f.err
}

func (f *fakeSender) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.msgs)
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = nil
}

func (f *fakeSender) last(t *testing.T) sent {
	t.Helper()
	msgs := f.all()
	if len(msgs) == 0 {
		t.Fatal("nothing sent")
	}
	return msgs[len(msgs)-1]
}

func (f *fakeSender) forChat(chatID int64) []sent {
	var out []sent
	for _, m := range f.all() {
		if m.chatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

type categoryData struct {
	questions []string
	records   []expert.Record
}

type fakeModels struct {
	mu     sync.Mutex
	data   map[string]categoryData
	builds int
}

func (f *fakeModels) NewModel(key string, rates expert.Rates) (*expert.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.data[key]
	if !ok {
		return nil, &expert.ConfigurationError{Reason: "category " + key, Err: catalog.ErrNoData}
	}
	f.builds++
	return expert.NewModel(key, d.questions, d.records, rates)
}

type fakeHistory struct {
	mu    sync.Mutex
	saved []store.QuizResult
	err   error
}

func (f *fakeHistory) Save(_ context.Context, res store.QuizResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, res)
	return f.err
}

func (f *fakeHistory) RecentByChat(_ context.Context, chatID int64, limit int) ([]store.QuizResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []store.QuizResult
	for i := len(f.saved) - 1; i >= 0 && len(out) < limit; i-- {
		if r := f.saved[i]; r.ChatID == chatID && r.Outcome == metrics.OutcomeCompleted {
			out = append(out, r)
		}
	}
	return out, nil
}

func prob(v float64) *float64 { return &v }

func est(q int, yes, no float64) expert.Estimation {
	return expert.Estimation{Question: q, InPresence: prob(yes), InAbsence: prob(no)}
}

func rec(id int, producer, model, image string, prior float64, ests ...expert.Estimation) expert.Record {
	return expert.Record{ID: id, Producer: producer, Model: model, ImageID: image, Prior: prob(prior), Estimations: ests}
}

// Одна категория "мікрофон" с одним вопросом: после "Так" побеждает Shure (≈0.7778), после "Ні" — Rode.
func oneQuestion() categoryData {
	return categoryData{
		questions: []string{"Записуєте вокал?"},
		records: []expert.Record{
			rec(1, "Shure", "SM58", "file-sm58", 0.5, est(1, 0.7, 0.2)),
			rec(2, "Rode", "NT1", "", 0.5, est(1, 0.2, 0.6)),
		},
	}
}

func threeQuestions() categoryData {
	return categoryData{
		questions: []string{"q1", "q2", "q3"},
		records: []expert.Record{
			rec(1, "Shure", "SM58", "", 0.6, est(1, 0.1, 0.9), est(2, 0.5, 0.5), est(3, 0.5, 0.5)),
			rec(2, "Rode", "NT1", "", 0.4, est(1, 0.9, 0.1), est(2, 0.5, 0.5), est(3, 0.5, 0.5)),
		},
	}
}

type harness struct {
	m       *Manager
	sender  *fakeSender
	models  *fakeModels
	history *fakeHistory
}

func newHarness(data categoryData) *harness {
	h := &harness{
		sender:  &fakeSender{},
		models:  &fakeModels{data: map[string]categoryData{catalog.Microphone: data}},
		history: &fakeHistory{},
	}
	h.m = NewManager(h.sender, h.models, Options{
		Rates:           expert.DefaultRates(),
		DefaultLanguage: locale.UA,
		History:         h.history,
	})
	return h
}

func (h *harness) say(chatID int64, text string) {
	h.m.Handle(context.Background(), Update{ChatID: chatID, Text: text})
}

func assertState(t *testing.T, m *Manager, chatID int64, want State, wantStep int) {
	t.Helper()
	got, step := m.State(chatID)
	if got != want || step != wantStep {
		t.Fatalf("state = %s/%d, want %s/%d", got, step, want, wantStep)
	}
}

var ua = locale.Get(locale.UA)

func TestFullQuiz(t *testing.T) {
	h := newHarness(oneQuestion())

	assertState(t, h.m, 1, StateIdle, 0)
	h.say(1, "/menu")
	assertState(t, h.m, 1, StateMenuShown, 0)
	if got := h.sender.last(t).kb; got == nil || !slices.Equal(got.Options, ua.CategoryLabels()) {
		t.Fatalf("menu keyboard = %+v", got)
	}

	h.say(1, "Мікрофон")
	assertState(t, h.m, 1, StateInQuiz, 0)
	q := h.sender.last(t)
	if q.text != ua.Question(0, 1, "Записуєте вокал?") {
		t.Fatalf("question = %q", q.text)
	}
	if q.kb == nil || !slices.Equal(q.kb.Options, ua.AnswerButtons()) {
		t.Fatalf("answer keyboard = %+v", q.kb)
	}

	h.sender.reset()
	h.say(1, "Так")
	assertState(t, h.m, 1, StateIdle, 0)

	msgs := h.sender.all()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want image + result: %+v", len(msgs), msgs)
	}
	if msgs[0].image != "file-sm58" || msgs[0].caption != "Shure SM58" {
		t.Errorf("image = %+v", msgs[0])
	}
	if !strings.Contains(msgs[1].text, "Shure") || msgs[1].kb == nil || !msgs[1].kb.Remove {
		t.Errorf("result = %+v", msgs[1])
	}

	if len(h.history.saved) != 1 {
		t.Fatalf("history = %+v", h.history.saved)
	}
	res := h.history.saved[0]
	if res.Outcome != metrics.OutcomeCompleted || res.CandidateID != 1 || res.Steps != 1 || res.Category != catalog.Microphone {
		t.Errorf("saved = %+v", res)
	}
	if !strings.HasPrefix(res.Belief, "0.7777") {
		t.Errorf("belief = %s, want ≈0.7778", res.Belief)
	}
	if !slices.Equal(res.Answers, []string{expert.AnswerYes.String()}) {
		t.Errorf("answers = %v", res.Answers)
	}
}

func TestResultWithoutImageSendsOnlyText(t *testing.T) {
	h := newHarness(oneQuestion())
	h.say(1, "Мікрофон")
	h.sender.reset()
	h.say(1, "Ні")

	msgs := h.sender.all()
	if len(msgs) != 1 || msgs[0].image != "" || !strings.Contains(msgs[0].text, "Rode") {
		t.Fatalf("sent = %+v", msgs)
	}
}

func TestStopMidQuizStartsFresh(t *testing.T) {
	h := newHarness(threeQuestions())

	h.say(7, "Мікрофон")
	h.say(7, "Так") // Rode выходит вперёд
	assertState(t, h.m, 7, StateInQuiz, 1)

	h.say(7, "/stop")
	assertState(t, h.m, 7, StateIdle, 0)
	if got := h.sender.last(t); got.text != ua.Done || got.kb == nil || !got.kb.Remove {
		t.Fatalf("stop reply = %+v", got)
	}
	if n := len(h.history.saved); n != 1 || h.history.saved[0].Outcome != metrics.OutcomeStopped || h.history.saved[0].Steps != 1 {
		t.Fatalf("history = %+v", h.history.saved)
	}

	h.say(7, "Мікрофон")
	assertState(t, h.m, 7, StateInQuiz, 0)
	for range 3 {
		h.say(7, "Не знаю")
	}
	assertState(t, h.m, 7, StateIdle, 0)

	if h.models.builds != 2 {
		t.Fatalf("builds = %d, want 2", h.models.builds)
	}
	last := h.history.saved[len(h.history.saved)-1]
	if last.CandidateID != 1 || last.Belief != "0.6" {
		t.Fatalf("second quiz result = %+v, want original prior of Shure", last)
	}
}

func TestUnavailableCategory(t *testing.T) {
	h := newHarness(oneQuestion())
	before := testutil.ToFloat64(metrics.CategoryUnavailable.WithLabelValues(catalog.StudioMonitor))

	h.say(3, "Студійні монітори")

	assertState(t, h.m, 3, StateIdle, 0)
	if got := h.sender.last(t); got.text != ua.Unavailable {
		t.Fatalf("reply = %q", got.text)
	}
	if got := testutil.ToFloat64(metrics.CategoryUnavailable.WithLabelValues(catalog.StudioMonitor)); got != before+1 {
		t.Fatalf("category_unavailable = %v, want %v", got, before+1)
	}
}

func TestInvalidCatalogDoesNotStartQuiz(t *testing.T) {
	h := newHarness(categoryData{
		questions: []string{"q1", "q2"},
		records: []expert.Record{
			rec(1, "Shure", "SM58", "", 0.5, est(1, 0.7, 0.2), est(2, 0.5, 0.5)),
			rec(2, "Rode", "NT1", "", 0.5, est(1, 0.2, 0.6)), // нет вопроса 2
		},
	})

	h.say(3, "Мікрофон")

	assertState(t, h.m, 3, StateIdle, 0)
	if got := h.sender.last(t); got.text != ua.Unavailable {
		t.Fatalf("reply = %q", got.text)
	}
}

func TestCommandsRejectedDuringQuiz(t *testing.T) {
	h := newHarness(threeQuestions())
	h.say(1, "Мікрофон")
	h.say(1, "Так")
	question := h.sender.last(t)

	for _, cmd := range []string{"/menu", "/help", "/start", "/settings@MusicStudioExpertBot"} {
		t.Run(cmd, func(t *testing.T) {
			h.sender.reset()
			h.say(1, cmd)
			msgs := h.sender.all()
			if len(msgs) != 2 || msgs[0].text != ua.NotAvailable {
				t.Fatalf("sent = %+v", msgs)
			}
			if msgs[1].text != question.text || !slices.Equal(msgs[1].kb.Options, question.kb.Options) {
				t.Fatalf("question not re-sent: %+v", msgs[1])
			}
			assertState(t, h.m, 1, StateInQuiz, 1)
		})
	}
}

func TestNonAnswerTextIgnoredDuringQuiz(t *testing.T) {
	h := newHarness(threeQuestions())
	h.say(1, "Мікрофон")
	h.sender.reset()

	h.say(1, "а можна дешевше?")
	h.say(1, "Yes") // английская подпись при украинском языке

	if msgs := h.sender.all(); len(msgs) != 0 {
		t.Fatalf("sent = %+v", msgs)
	}
	assertState(t, h.m, 1, StateInQuiz, 0)
}

func TestNoTextPrompts(t *testing.T) {
	h := newHarness(threeQuestions())

	h.say(1, "")
	if got := h.sender.last(t); got.text != ua.NoText {
		t.Fatalf("reply = %q", got.text)
	}
	assertState(t, h.m, 1, StateIdle, 0)

	h.say(1, "Мікрофон")
	h.say(1, "   ")
	if got := h.sender.last(t); got.text != ua.NoText {
		t.Fatalf("reply = %q", got.text)
	}
	assertState(t, h.m, 1, StateInQuiz, 0)
}

func TestUnrecognizedTextIgnoredOutsideQuiz(t *testing.T) {
	h := newHarness(oneQuestion())
	h.say(1, "/menu")
	h.sender.reset()

	h.say(1, "привіт")
	h.say(1, "/unknown")
	h.say(1, "/stop")

	if msgs := h.sender.all(); len(msgs) != 0 {
		t.Fatalf("sent = %+v", msgs)
	}
	assertState(t, h.m, 1, StateMenuShown, 0)
}

func TestStartAndHelp(t *testing.T) {
	h := newHarness(oneQuestion())

	h.say(1, "/start")
	if got := h.sender.last(t); got.text != ua.Start || got.kb == nil || !got.kb.Remove {
		t.Fatalf("start = %+v", got)
	}
	h.say(1, "/help@MusicStudioExpertBot")
	if got := h.sender.last(t); got.text != ua.Help {
		t.Fatalf("help = %q", got.text)
	}
	assertState(t, h.m, 1, StateIdle, 0)
}

func TestLanguageSwitch(t *testing.T) {
	h := newHarness(oneQuestion())
	us := locale.Get(locale.US)

	h.say(5, "/settings")
	if got := h.sender.last(t).kb; got == nil || !slices.Equal(got.Options, locale.LanguageButtons()) {
		t.Fatalf("settings keyboard = %+v", got)
	}
	h.say(5, "🇺🇸US")
	if got := h.sender.last(t); got.text != us.Done {
		t.Fatalf("reply = %q", got.text)
	}
	if got := h.m.Language(5); got != locale.US {
		t.Fatalf("language = %s", got)
	}
	if got := h.m.Language(6); got != locale.UA {
		t.Fatalf("other chat language = %s", got)
	}

	h.say(5, "/menu")
	if got := h.sender.last(t).kb; !slices.Equal(got.Options, us.CategoryLabels()) {
		t.Fatalf("menu = %+v", got)
	}
	h.say(5, "Microphone")
	if got := h.sender.last(t); !strings.HasPrefix(got.text, us.QuestionPrefix) || !slices.Equal(got.kb.Options, us.AnswerButtons()) {
		t.Fatalf("question = %+v", got)
	}
	h.say(5, "Так") // только активный язык
	assertState(t, h.m, 5, StateInQuiz, 0)
	h.say(5, "Yes")
	assertState(t, h.m, 5, StateIdle, 0)
}

func TestCalculationErrorEndsQuiz(t *testing.T) {
	h := newHarness(categoryData{
		questions: []string{"q1", "q2"},
		records: []expert.Record{
			rec(1, "Shure", "SM58", "", 0.5, est(1, 0, 0), est(2, 0.5, 0.5)),
			rec(2, "Rode", "NT1", "", 0.5, est(1, 0.5, 0.5), est(2, 0.5, 0.5)),
		},
	})
	h.say(2, "Мікрофон")
	h.say(9, "Мікрофон")

	h.say(2, "Так")

	assertState(t, h.m, 2, StateIdle, 0)
	if got := h.sender.last(t); got.text != ua.QuizFailed || !got.kb.Remove {
		t.Fatalf("reply = %+v", got)
	}
	if res := h.history.saved[0]; res.Outcome != metrics.OutcomeFailed || res.CandidateID != 0 {
		t.Fatalf("saved = %+v", res)
	}
	assertState(t, h.m, 9, StateInQuiz, 0)
}

func TestSendErrorsDoNotChangeState(t *testing.T) {
	h := newHarness(threeQuestions())
	h.sender.err = errors.New("telegram: 502")

	h.say(1, "Мікрофон")
	h.say(1, "Так")

	assertState(t, h.m, 1, StateInQuiz, 1)
}

func TestHistoryCommand(t *testing.T) {
	h := newHarness(oneQuestion())
	h.say(1, "/history")
	if got := h.sender.last(t); got.text != ua.HistoryEmpty {
		t.Fatalf("empty history = %q", got.text)
	}

	h.say(1, "Мікрофон")
	h.say(1, "Так")
	h.say(1, "/history")
	got := h.sender.last(t).text
	if !strings.HasPrefix(got, ua.History) || !strings.Contains(got, "1. Shure SM58 (Мікрофон)") {
		t.Fatalf("history = %q", got)
	}

	off := NewManager(h.sender, h.models, Options{Rates: expert.DefaultRates()})
	off.Handle(context.Background(), Update{ChatID: 1, Text: "/history"})
	if got := h.sender.last(t); got.text != ua.HistoryOff {
		t.Fatalf("disabled history = %q", got.text)
	}
}

func TestHistorySaveErrorIsNotFatal(t *testing.T) {
	h := newHarness(oneQuestion())
	h.history.err = errors.New("db down")

	h.say(1, "Мікрофон")
	h.say(1, "Так")

	assertState(t, h.m, 1, StateIdle, 0)
	if got := h.sender.last(t); !strings.Contains(got.text, "Shure") {
		t.Fatalf("result = %q", got.text)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	h := newHarness(oneQuestion())
	d := NewDispatcher(h.m, 4, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Serve(ctx) }()

	const chats = 20
	var wg sync.WaitGroup
	for i := 1; i <= chats; i++ {
		wg.Add(1)
		go func(chatID int64) {
			defer wg.Done()
			answer := "Так"
			if chatID%2 == 0 {
				answer = "Ні"
			}
			for j, text := range []string{"Мікрофон", answer} {
				if err := d.Dispatch(ctx, Update{ID: j, ChatID: chatID, Text: text}); err != nil {
					t.Errorf("dispatch: %v", err)
				}
			}
		}(int64(i))
	}
	wg.Wait()
	waitFor(t, func() bool {
		h.history.mu.Lock()
		defer h.history.mu.Unlock()
		return len(h.history.saved) == chats
	})

	for i := int64(1); i <= chats; i++ {
		want := "Shure"
		if i%2 == 0 {
			want = "Rode"
		}
		msgs := h.sender.forChat(i)
		if len(msgs) == 0 || !strings.Contains(msgs[len(msgs)-1].text, want) {
			t.Errorf("chat %d: result %+v, want %s", i, msgs, want)
		}
		assertState(t, h.m, i, StateIdle, 0)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in    string
		want  string
		isCmd bool
	}{
		{"/menu", "menu", true},
		{"/Menu@MusicStudioExpertBot", "menu", true},
		{"/stop now", "stop", true},
		{"/", "", true},
		{"menu", "", false},
		{"Так", "", false},
	}
	for _, tt := range tests {
		got, ok := parseCommand(tt.in)
		if got != tt.want || ok != tt.isCmd {
			t.Errorf("parseCommand(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.isCmd)
		}
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{StateIdle: "idle", StateMenuShown: "menu_shown", StateInQuiz: "in_quiz", State(9): fmt.Sprintf("State(%d)", 9)} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

func sessionCount(m *Manager) int {
	n := 0
	m.sessions.Range(func(_, _ any) bool { n++; return true })
	return n
}

func TestIdleChatsAreNotKept(t *testing.T) {
	h := newHarness(oneQuestion())
	us := locale.LanguageButtons()[1]
	uaButton := locale.LanguageButtons()[0]

	h.m.Handle(context.Background(), Update{ChatID: 1})
	h.say(2, "привіт")
	h.say(3, "/start")
	if n := sessionCount(h.m); n != 0 {
		t.Fatalf("sessions after idle messages = %d, want 0", n)
	}

	h.say(4, "/menu")
	h.say(5, us)
	h.say(6, "Мікрофон")
	if n := sessionCount(h.m); n != 3 {
		t.Fatalf("sessions = %d, want 3", n)
	}

	h.say(4, "Мікрофон")
	h.say(4, "Так")
	h.say(6, "/stop")
	h.say(5, uaButton)
	if n := sessionCount(h.m); n != 0 {
		t.Fatalf("sessions after finish = %d, want 0", n)
	}
	assertState(t, h.m, 4, StateIdle, 0)
	if got := h.m.Language(5); got != locale.UA {
		t.Fatalf("language = %v", got)
	}

	h.say(7, us)
	h.say(7, "Microphone")
	h.say(7, "Yes")
	if n := sessionCount(h.m); n != 1 || h.m.Language(7) != locale.US {
		t.Fatalf("sessions = %d, language = %v; want language kept", n, h.m.Language(7))
	}
}
