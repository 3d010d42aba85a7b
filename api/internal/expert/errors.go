package expert

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration — модель не может быть построена: константы, схема, пустой каталог.
	ErrConfiguration = errors.New("expert: configuration error")
	// ErrCalculation — пересчёт вероятности не удался, опрос прерывается.
	ErrCalculation = errors.New("expert: calculation error")

	ErrDivisionByZero = errors.New("division by zero")
	ErrOutOfDomain    = errors.New("belief out of [0;1]")
)

type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// CalculationError называет кандидата, на котором упал пересчёт.
// Уже пересчитанные кандидаты не откатываются.
type CalculationError struct {
	CandidateID int
	Producer    string
	Model       string
	Question    int // 1-based
	Err         error
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("calculation error: candidate #%d (%s %s), question %d: %v",
		e.CandidateID, e.Producer, e.Model, e.Question, e.Err)
}

func (e *CalculationError) Unwrap() error { return e.Err }

func (e *CalculationError) Is(target error) bool { return target == ErrCalculation }
