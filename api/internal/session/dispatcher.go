package session

import (
	"context"
	"sync"

	"music-studio-bot/api/internal/logging"
)

// Handler — то, что Dispatcher вызывает для каждого сообщения. *Manager подходит.
type Handler interface {
	Handle(ctx context.Context, upd Update)
}

// Dispatcher раскладывает сообщения по воркерам по chat id: все сообщения одного чата
// попадают в одну очередь и обрабатываются в порядке получения.
type Dispatcher struct {
	handler Handler
	queues  []chan Update
}

func NewDispatcher(h Handler, workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	queues := make([]chan Update, workers)
	for i := range queues {
		queues[i] = make(chan Update, queueSize)
	}
	return &Dispatcher{handler: h, queues: queues}
}

func (d *Dispatcher) shard(chatID int64) int {
	n := int64(len(d.queues))
	return int(((chatID % n) + n) % n)
}

// Dispatch ставит сообщение в очередь его чата. Блокируется, пока очередь полна.
func (d *Dispatcher) Dispatch(ctx context.Context, upd Update) error {
	select {
	case d.queues[d.shard(upd.ChatID)] <- upd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve запускает воркеров и ждёт отмены ctx. Сообщения, оставшиеся в очередях
// при остановке, теряются.
func (d *Dispatcher) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i, q := range d.queues {
		wg.Add(1)
		go func(worker int, q <-chan Update) {
			defer wg.Done()
			d.work(ctx, worker, q)
		}(i, q)
	}
	logging.Info().Int("workers", len(d.queues)).Msg("dispatcher started")
	wg.Wait()
	return ctx.Err()
}

func (d *Dispatcher) work(ctx context.Context, worker int, q <-chan Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd := <-q:
			d.handle(ctx, worker, upd)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, worker int, upd Update) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Int("worker", worker).Int64("chat_id", upd.ChatID).Int("update_id", upd.ID).
				Interface("panic", r).Msg("update handler panicked")
		}
	}()
	d.handler.Handle(ctx, upd)
}

func (d *Dispatcher) String() string { return "session-dispatcher" }
