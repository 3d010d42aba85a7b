package expert

import (
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"music-studio-bot/api/internal/logging"
)

var errMissingConditional = errors.New("no conditional probabilities for question")

// Conditional — P("да" | кандидат верен) и P("да" | кандидат неверен).
type Conditional struct {
	Yes decimal.Decimal
	No  decimal.Decimal
}

// Candidate — один из конкурирующих товаров и текущая вероятность того, что он подходит.
type Candidate struct {
	ID          int
	Producer    string
	Model       string
	ImageID     string
	Description string
	Belief      decimal.Decimal

	conditionals map[int]Conditional // ключ — номер вопроса, с 1
}

// Conditional возвращает пару вероятностей для вопроса question (1-based).
func (c Candidate) Conditional(question int) (Conditional, bool) {
	cond, ok := c.conditionals[question]
	return cond, ok
}

// Model — экспертная система одной категории на время одного опроса.
// Вероятности кандидатов меняются на месте после каждого ответа.
type Model struct {
	id         string
	category   string
	questions  []string
	candidates []*Candidate
	rates      Rates
	log        zerolog.Logger
}

// NewModel проверяет константы и записи каталога и строит свежее состояние кандидатов.
// Данные копируются: две модели никогда не делят кандидатов.
func NewModel(category string, questions []string, records []Record, rates Rates) (*Model, error) {
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("category %q has no questions", category)}
	}
	if err := ValidateRecords(records, len(questions)); err != nil {
		return nil, err
	}

	id := uuid.New().String()[:8]
	m := &Model{
		id:         id,
		category:   category,
		questions:  append([]string(nil), questions...),
		candidates: make([]*Candidate, 0, len(records)),
		rates:      rates,
		log:        logging.With().Str("model_id", id).Str("category", category).Logger(),
	}
	for _, rec := range records {
		c := &Candidate{
			ID:           rec.ID,
			Producer:     rec.Producer,
			Model:        rec.Model,
			ImageID:      rec.ImageID,
			Description:  rec.Description,
			Belief:       decimal.NewFromFloat(*rec.Prior),
			conditionals: make(map[int]Conditional, len(rec.Estimations)),
		}
		for _, e := range rec.Estimations {
			c.conditionals[e.Question] = Conditional{
				Yes: decimal.NewFromFloat(*e.InPresence),
				No:  decimal.NewFromFloat(*e.InAbsence),
			}
		}
		m.candidates = append(m.candidates, c)
	}
	m.log.Debug().Int("questions", len(m.questions)).Int("candidates", len(m.candidates)).Msg("expert model ready")
	return m, nil
}

func (m *Model) ID() string       { return m.id }
func (m *Model) Category() string { return m.category }
func (m *Model) Rates() Rates     { return m.rates }

// Questions возвращает копию списка вопросов.
func (m *Model) Questions() []string { return append([]string(nil), m.questions...) }

func (m *Model) NumQuestions() int { return len(m.questions) }

// Question возвращает текст вопроса по индексу с нуля.
func (m *Model) Question(step int) (string, bool) {
	if step < 0 || step >= len(m.questions) {
		return "", false
	}
	return m.questions[step], true
}

// Candidates возвращает снимок кандидатов в порядке каталога.
func (m *Model) Candidates() []Candidate {
	out := make([]Candidate, 0, len(m.candidates))
	for _, c := range m.candidates {
		cp := *c
		cp.conditionals = maps.Clone(c.conditionals)
		out = append(out, cp)
	}
	return out
}

// HandleAnswer пересчитывает вероятность каждого кандидата по ответу на вопрос step (с нуля).
// При ошибке возвращает *CalculationError; уже обновлённые кандидаты не откатываются.
func (m *Model) HandleAnswer(step int, answer Answer) error {
	if step < 0 || step >= len(m.questions) {
		return fmt.Errorf("question index %d out of range [0;%d)", step, len(m.questions))
	}
	if !answer.Valid() {
		return fmt.Errorf("unknown answer %d", int(answer))
	}
	question := step + 1
	m.log.Debug().Int("question", question).Stringer("answer", answer).Msg("recalculating beliefs")

	for _, c := range m.candidates {
		cond, ok := c.conditionals[question]
		if !ok {
			return m.calcErr(c, question, errMissingConditional)
		}
		p, err := m.rates.Update(answer, c.Belief, cond.Yes, cond.No)
		if err != nil {
			return m.calcErr(c, question, err)
		}
		if p.IsNegative() || p.GreaterThan(one) {
			return m.calcErr(c, question, fmt.Errorf("%w: %s", ErrOutOfDomain, p))
		}
		c.Belief = p
		m.log.Debug().Str("model", c.Producer+" "+c.Model).Str("belief", p.String()).Msg("belief updated")
	}
	return nil
}

func (m *Model) calcErr(c *Candidate, question int, err error) error {
	return &CalculationError{CandidateID: c.ID, Producer: c.Producer, Model: c.Model, Question: question, Err: err}
}

// Result возвращает кандидата с наибольшей вероятностью.
// При равенстве побеждает тот, кто раньше в каталоге.
func (m *Model) Result() Candidate {
	best := m.candidates[0]
	for _, c := range m.candidates[1:] {
		if c.Belief.GreaterThan(best.Belief) {
			best = c
		}
	}
	cp := *best
	cp.conditionals = maps.Clone(best.conditionals)
	return cp
}
