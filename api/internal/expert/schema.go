package expert

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Record — запись кандидата в том виде, в каком она лежит в каталоге.
// Вероятности — указатели, чтобы отличать отсутствующее поле от нуля.
type Record struct {
	ID          int          `koanf:"id" validate:"required,gte=1"`
	Producer    string       `koanf:"producer" validate:"required"`
	Model       string       `koanf:"model" validate:"required"`
	ImageID     string       `koanf:"image_id"`
	Description string       `koanf:"description"`
	Prior       *float64     `koanf:"priori_probability" validate:"required,gte=0,lte=1"`
	Estimations []Estimation `koanf:"questions_estimation" validate:"required,min=1,dive"`
}

// Estimation — условные вероятности ответа "да" на вопрос Question (1-based).
type Estimation struct {
	Question   int      `koanf:"question" validate:"gte=1"`
	InPresence *float64 `koanf:"probability_in_presence" validate:"required,gte=0,lte=1"`
	InAbsence  *float64 `koanf:"probability_in_absence" validate:"required,gte=0,lte=1"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateRecords проверяет каждую запись и покрытие всех вопросов 1..questions.
// Одна невалидная запись бракует весь каталог.
func ValidateRecords(records []Record, questions int) error {
	if len(records) == 0 {
		return &ConfigurationError{Reason: "category has no candidates"}
	}
	seen := make(map[int]struct{}, len(records))
	for i, rec := range records {
		if err := validate.Struct(rec); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				return &ConfigurationError{
					Reason: fmt.Sprintf("candidate %d/%d: field %s failed %q", i+1, len(records), verrs[0].Namespace(), verrs[0].Tag()),
					Err:    err,
				}
			}
			return &ConfigurationError{Reason: fmt.Sprintf("candidate %d/%d", i+1, len(records)), Err: err}
		}
		if _, dup := seen[rec.ID]; dup {
			return &ConfigurationError{Reason: fmt.Sprintf("duplicate candidate id %d", rec.ID)}
		}
		seen[rec.ID] = struct{}{}

		covered := make(map[int]bool, len(rec.Estimations))
		for _, e := range rec.Estimations {
			if covered[e.Question] {
				return &ConfigurationError{Reason: fmt.Sprintf("candidate #%d: question %d estimated twice", rec.ID, e.Question)}
			}
			covered[e.Question] = true
		}
		for q := 1; q <= questions; q++ {
			if !covered[q] {
				return &ConfigurationError{Reason: fmt.Sprintf("candidate #%d (%s %s): no estimation for question %d",
					rec.ID, rec.Producer, rec.Model, q)}
			}
		}
	}
	return nil
}
