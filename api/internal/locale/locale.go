// Package locale — тексты бота на двух языках. Язык влияет только на навигацию:
// вопросы и описания товаров берутся из каталога как есть.
package locale

import (
	"fmt"
	"strings"

	"music-studio-bot/api/internal/catalog"
	"music-studio-bot/api/internal/expert"
)

type Tag string

const (
	UA Tag = "UA"
	US Tag = "US"

	Default = UA
)

// Languages — порядок кнопок в /settings.
var Languages = []Tag{UA, US}

var buttons = map[Tag]string{
	UA: "🇺🇦UA",
	US: "🇺🇸US",
}

// Locale — набор текстов одного языка.
type Locale struct {
	Tag Tag

	Answers    [len(expert.Answers)]string
	Categories map[string]string // ключ каталога -> подпись кнопки

	Start          string
	Menu           string
	Help           string
	Settings       string
	NotAvailable   string
	NoText         string
	QuestionPrefix string
	StopHint       string
	Done           string
	Unavailable    string
	QuizFailed     string
	ResultTitle    string
	Producer       string
	ModelLabel     string
	Description    string
	History        string
	HistoryEmpty   string
	HistoryOff     string
}

var locales = map[Tag]*Locale{
	UA: {
		Tag:     UA,
		Answers: [...]string{"Ні", "Швидше за все - ні", "Не знаю", "Швидше за все - так", "Так"},
		Categories: map[string]string{
			catalog.AudioInterface: "Аудіо інтерфейс",
			catalog.Soundproofing:  "Шумоізоляція",
			catalog.Microphone:     "Мікрофон",
			catalog.StudioMonitor:  "Студійні монітори",
			catalog.MixingConsole:  "Мікшерський пульт",
		},
		Start: "Щоб обрати категорію введіть команду: /menu",
		Menu:  "Оберіть звукозаписуюче обладнання",
		Help: "MusicStudioExpertBot допоможе вам з укомплектуванням домашньої студії звукозапису. " +
			"Вам лише необхідно відповісти на поставленні питання.\n" +
			"Щоб обрати категорію введіть команду: /menu\n" +
			"Також данний бот підтримує наступні команди: /start /help /settings /history",
		Settings:       "Оберіть мову (лише для навігації)",
		NotAvailable:   "Ви не можете використовувати команди під час опитування.",
		NoText:         "Я очікую текст або команду",
		QuestionPrefix: "Поточне питання: ",
		StopHint:       "_Щоб вийти з данного опитування введіть команду:_ /stop",
		Done:           "Готово",
		Unavailable:    "Ця категорія поки недоступна. Оберіть іншу: /menu",
		QuizFailed:     "Не вдалося завершити опитування через помилку в даних. Спробуйте пізніше: /menu",
		ResultTitle:    "*Результат:*",
		Producer:       "*Виробник:*",
		ModelLabel:     "*Модель:*",
		Description:    "*Опис:*",
		History:        "*Останні рекомендації:*",
		HistoryEmpty:   "Ви ще не пройшли жодного опитування.",
		HistoryOff:     "Історія рекомендацій вимкнена.",
	},
	US: {
		Tag:     US,
		Answers: [...]string{"No", "Probably no", "Don't know", "Probably", "Yes"},
		Categories: map[string]string{
			catalog.AudioInterface: "Audio interface",
			catalog.Soundproofing:  "Soundproofing",
			catalog.Microphone:     "Microphone",
			catalog.StudioMonitor:  "Studio monitor",
			catalog.MixingConsole:  "Mixing console",
		},
		Start: "To select a category, enter the command: /menu",
		Menu:  "Choose a type of sound recording equipment",
		Help: "MusicStudioExpertBot is a bot, that can help you to provide a home sound recording studio.\n" +
			"To choose a category from menu - use this command: /menu\n" +
			"Also, this bot supports the following commands: /start /help /settings /history",
		Settings:       "Here you can choose a language that you prefer (for navigation only)",
		NotAvailable:   "All commands are not available during the quiz.",
		NoText:         "I'm waiting for some text or command",
		QuestionPrefix: "Current question: ",
		StopHint:       "_To exit this survey, enter the following command:_ /stop",
		Done:           "Done",
		Unavailable:    "This category is not available yet. Choose another one: /menu",
		QuizFailed:     "The quiz could not be completed because of a data error. Please try later: /menu",
		ResultTitle:    "*Result:*",
		Producer:       "*Producer:*",
		ModelLabel:     "*Model:*",
		Description:    "*Description:*",
		History:        "*Recent recommendations:*",
		HistoryEmpty:   "You have not finished any quiz yet.",
		HistoryOff:     "Recommendation history is disabled.",
	},
}

// Get возвращает тексты языка tag, для неизвестного — язык по умолчанию.
func Get(tag Tag) *Locale {
	if l, ok := locales[tag]; ok {
		return l
	}
	return locales[Default]
}

// ParseTag принимает "UA"/"us" и т.п.
func ParseTag(s string) (Tag, bool) {
	t := Tag(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := locales[t]
	return t, ok
}

// ParseLanguage распознаёт кнопку выбора языка ("🇺🇦UA").
func ParseLanguage(text string) (Tag, bool) {
	for _, tag := range Languages {
		if text == buttons[tag] {
			return tag, true
		}
	}
	return "", false
}

func LanguageButtons() []string {
	out := make([]string, 0, len(Languages))
	for _, tag := range Languages {
		out = append(out, buttons[tag])
	}
	return out
}

// ParseAnswer распознаёт подпись кнопки ответа этого языка.
func (l *Locale) ParseAnswer(text string) (expert.Answer, bool) {
	for i, label := range l.Answers {
		if text == label {
			return expert.Answers[i], true
		}
	}
	return 0, false
}

func (l *Locale) AnswerButtons() []string { return l.Answers[:] }

// CategoryLabels — подписи категорий в порядке меню.
func (l *Locale) CategoryLabels() []string {
	out := make([]string, 0, len(catalog.Categories))
	for _, key := range catalog.Categories {
		out = append(out, l.Categories[key])
	}
	return out
}

// CategoryKey ищет категорию по подписи: сначала в этом языке, затем в остальных.
func (l *Locale) CategoryKey(text string) (string, bool) {
	if key, ok := l.categoryKey(text); ok {
		return key, true
	}
	for _, tag := range Languages {
		if tag == l.Tag {
			continue
		}
		if key, ok := locales[tag].categoryKey(text); ok {
			return key, true
		}
	}
	return "", false
}

func (l *Locale) categoryKey(text string) (string, bool) {
	for key, label := range l.Categories {
		if label == text {
			return key, true
		}
	}
	return "", false
}

// Question: "Поточне питання: (1/3)\n*текст*\n\n<подсказка /stop>".
func (l *Locale) Question(step, total int, text string) string {
	return fmt.Sprintf("%s(%d/%d)\n%s\n\n%s", l.QuestionPrefix, step+1, total, Bold(text), l.StopHint)
}

func (l *Locale) Result(c expert.Candidate) string {
	return fmt.Sprintf("%s\n\n%s %s\n%s %s\n%s %s",
		l.ResultTitle,
		l.Producer, Esc(c.Producer),
		l.ModelLabel, Esc(c.Model),
		l.Description, Esc(c.Description))
}

// Bold выделяет текст жирным. Внутри сущности legacy Markdown экранирование не работает,
// поэтому спецсимволы выносятся между сущностями: "a_b" -> "*a*\_*b*".
func Bold(s string) string {
	var b, run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			b.WriteString("*" + run.String() + "*")
			run.Reset()
		}
	}
	for _, r := range strings.ReplaceAll(s, "`", "'") {
		switch r {
		case '_', '*', '[':
			flush()
			b.WriteString(`\` + string(r))
		default:
			run.WriteRune(r)
		}
	}
	flush()
	return b.String()
}

// Esc — лёгкое экранирование для Markdown.
func Esc(s string) string {
	s = strings.ReplaceAll(s, "`", "'")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "[", "\\[")
	return s
}
