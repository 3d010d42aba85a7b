package expert

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Answer — категория ответа пользователя на вопрос.
type Answer int

const (
	AnswerNo Answer = iota
	AnswerProbablyNo
	AnswerUnknown
	AnswerProbably
	AnswerYes
)

// Answers перечисляет категории в порядке кнопок клавиатуры.
var Answers = [...]Answer{AnswerNo, AnswerProbablyNo, AnswerUnknown, AnswerProbably, AnswerYes}

func (a Answer) String() string {
	switch a {
	case AnswerNo:
		return "no"
	case AnswerProbablyNo:
		return "probably_no"
	case AnswerUnknown:
		return "unknown"
	case AnswerProbably:
		return "probably"
	case AnswerYes:
		return "yes"
	default:
		return fmt.Sprintf("answer(%d)", int(a))
	}
}

// Valid сообщает, входит ли a в пять определённых категорий.
func (a Answer) Valid() bool { return a >= AnswerNo && a <= AnswerYes }

// divisionPrecision — число знаков после запятой при делении.
const divisionPrecision = 28

var one = decimal.NewFromInt(1)

// Rates задаёт вес частичных ответов ("скорее да" / "скорее нет").
type Rates struct {
	Gradation  int `koanf:"rate_gradation"`
	Probably   int `koanf:"probably_rate"`
	ProbablyNo int `koanf:"probably_no_rate"`
}

func DefaultRates() Rates {
	return Rates{Gradation: 5, Probably: 3, ProbablyNo: -3}
}

// Validate проверяет, что ProbablyNo ∈ (-Gradation; 0) и Probably ∈ (0; Gradation).
func (r Rates) Validate() error {
	if r.Gradation < 2 {
		return &ConfigurationError{Reason: fmt.Sprintf("rate gradation must be >= 2, got %d", r.Gradation)}
	}
	if r.ProbablyNo <= -r.Gradation || r.ProbablyNo >= 0 || r.Probably <= 0 || r.Probably >= r.Gradation {
		return &ConfigurationError{Reason: fmt.Sprintf(
			"probably_no_rate (%d) and probably_rate (%d) must be inside (%d;0) and (0;%d)",
			r.ProbablyNo, r.Probably, -r.Gradation, r.Gradation)}
	}
	return nil
}

// UpdateYes — формула Байеса для уверенного "да":
// p' = p_yes·p / (p_yes·p + p_no·(1−p)).
func UpdateYes(p, pYes, pNo decimal.Decimal) (decimal.Decimal, error) {
	num := pYes.Mul(p)
	den := num.Add(pNo.Mul(one.Sub(p)))
	return div(num, den)
}

// UpdateNo — то же для "нет", через дополнения условных вероятностей:
// p' = (1−p_yes)·p / ((1−p_yes)·p + (1−p_no)·(1−p)).
func UpdateNo(p, pYes, pNo decimal.Decimal) (decimal.Decimal, error) {
	num := one.Sub(pYes).Mul(p)
	den := num.Add(one.Sub(pNo).Mul(one.Sub(p)))
	return div(num, den)
}

// UpdateUnknown ничего не меняет.
func UpdateUnknown(p, _, _ decimal.Decimal) decimal.Decimal { return p }

// UpdateProbably сдвигает p к результату UpdateYes на долю Probably/Gradation.
func (r Rates) UpdateProbably(p, pYes, pNo decimal.Decimal) (decimal.Decimal, error) {
	yes, err := UpdateYes(p, pYes, pNo)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return p.Add(yes.Sub(p).Mul(r.fraction(r.Probably))), nil
}

// UpdateProbablyNo: p' = p + (p − no(p))·ProbablyNo/Gradation.
// ProbablyNo отрицателен, поэтому p движется к результату UpdateNo.
func (r Rates) UpdateProbablyNo(p, pYes, pNo decimal.Decimal) (decimal.Decimal, error) {
	no, err := UpdateNo(p, pYes, pNo)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return p.Add(p.Sub(no).Mul(r.fraction(r.ProbablyNo))), nil
}

// Update выбирает формулу по категории ответа.
func (r Rates) Update(a Answer, p, pYes, pNo decimal.Decimal) (decimal.Decimal, error) {
	switch a {
	case AnswerNo:
		return UpdateNo(p, pYes, pNo)
	case AnswerProbablyNo:
		return r.UpdateProbablyNo(p, pYes, pNo)
	case AnswerUnknown:
		return UpdateUnknown(p, pYes, pNo), nil
	case AnswerProbably:
		return r.UpdateProbably(p, pYes, pNo)
	case AnswerYes:
		return UpdateYes(p, pYes, pNo)
	}
	return decimal.Decimal{}, fmt.Errorf("unknown answer %d", int(a))
}

func (r Rates) fraction(rate int) decimal.Decimal {
	return decimal.NewFromInt(int64(rate)).DivRound(decimal.NewFromInt(int64(r.Gradation)), divisionPrecision)
}

func div(num, den decimal.Decimal) (decimal.Decimal, error) {
	if den.IsZero() {
		return decimal.Decimal{}, ErrDivisionByZero
	}
	return num.DivRound(den, divisionPrecision), nil
}
