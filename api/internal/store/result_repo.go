package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// QuizResult — итог одного опроса. Состояние активных опросов сюда не пишется.
type QuizResult struct {
	ID          int64
	CreatedAt   time.Time
	ChatID      int64
	Category    string
	Outcome     string // completed | stopped | failed
	Steps       int    // сколько ответов применено
	Answers     []string
	CandidateID int // 0, если опрос не завершён
	Producer    string
	Model       string
	Belief      string // десятичная строка
	ModelID     string // id экспертной модели из логов
}

type ResultRepo struct{ DB *sql.DB }

func NewResultRepo(db *sql.DB) *ResultRepo { return &ResultRepo{DB: db} }

const schema = `
create table if not exists quiz_results (
  id           bigserial primary key,
  created_at   timestamptz not null default now(),
  chat_id      bigint not null,
  category     text not null,
  outcome      text not null,
  steps        int not null default 0,
  answers_json jsonb not null default '[]',
  candidate_id int,
  producer     text,
  model        text,
  belief       numeric,
  model_id     text
);
create index if not exists quiz_results_chat_created on quiz_results (chat_id, created_at desc);`

// Migrate создаёт таблицу, если её ещё нет.
func (r *ResultRepo) Migrate(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

// Save пишет итог опроса.
func (r *ResultRepo) Save(ctx context.Context, res QuizResult) error {
	if res.ChatID == 0 || res.Category == "" || res.Outcome == "" {
		return errors.New("store: chat_id, category and outcome are required")
	}
	answers := res.Answers
	if answers == nil {
		answers = []string{}
	}
	js, _ := json.Marshal(answers)
	const q = `
insert into quiz_results (chat_id, category, outcome, steps, answers_json, candidate_id, producer, model, belief, model_id)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9::text::numeric,$10)`
	_, err := r.DB.ExecContext(ctx, q,
		res.ChatID, res.Category, res.Outcome, res.Steps, js,
		nullInt(res.CandidateID), nullStr(res.Producer), nullStr(res.Model), nullStr(res.Belief), nullStr(res.ModelID),
	)
	return err
}

// RecentByChat — последние завершённые рекомендации чата, новые первыми.
func (r *ResultRepo) RecentByChat(ctx context.Context, chatID int64, limit int) ([]QuizResult, error) {
	if limit <= 0 {
		limit = 5
	}
	const q = `
select id, created_at, chat_id, category, outcome, steps, answers_json,
       coalesce(candidate_id,0), coalesce(producer,''), coalesce(model,''),
       coalesce(belief::text,''), coalesce(model_id,'')
from quiz_results
where chat_id = $1 and outcome = 'completed'
order by created_at desc
limit $2`
	rows, err := r.DB.QueryContext(ctx, q, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QuizResult
	for rows.Next() {
		var (
			res QuizResult
			js  []byte
		)
		if err := rows.Scan(&res.ID, &res.CreatedAt, &res.ChatID, &res.Category, &res.Outcome, &res.Steps, &js,
			&res.CandidateID, &res.Producer, &res.Model, &res.Belief, &res.ModelID); err != nil {
			return nil, err
		}
		// битый JSON ответов не мешает показать рекомендацию
		_ = json.Unmarshal(js, &res.Answers)
		out = append(out, res)
	}
	return out, rows.Err()
}

// PurgeOlderThan удаляет старую историю.
func (r *ResultRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	const q = `delete from quiz_results where created_at < $1`
	res, err := r.DB.ExecContext(ctx, q, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}

func nullStr(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func nullInt(n int) sql.NullInt64 { return sql.NullInt64{Int64: int64(n), Valid: n != 0} }
