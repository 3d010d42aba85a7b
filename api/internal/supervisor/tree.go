// Package supervisor — дерево suture: транспорт, воркеры сессий и служебный HTTP
// перезапускаются независимо друг от друга.
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"music-studio-bot/api/internal/logging"
)

type TreeConfig struct {
	FailureThreshold float64       // по умолчанию 5
	FailureDecay     float64       // секунды, по умолчанию 30
	FailureBackoff   time.Duration // по умолчанию 15s
	ShutdownTimeout  time.Duration // по умолчанию 10s
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree:
//   - bot: источник обновлений (poller) и диспетчер сессий
//   - api: HTTP (healthz, metrics, webhook)
//   - maintenance: чистка истории
type Tree struct {
	root        *suture.Supervisor
	bot         *suture.Supervisor
	api         *suture.Supervisor
	maintenance *suture.Supervisor
	config      TreeConfig
}

func NewTree(config TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = def.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = def.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}

	rootSpec := suture.Spec{
		EventHook:        EventHook(logging.Logger()),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	// дочерние супервизоры наследуют EventHook от корня
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	t := &Tree{
		root:        suture.New("music-studio-bot", rootSpec),
		bot:         suture.New("bot-layer", childSpec),
		api:         suture.New("api-layer", childSpec),
		maintenance: suture.New("maintenance-layer", childSpec),
		config:      config,
	}
	t.root.Add(t.bot)
	t.root.Add(t.api)
	t.root.Add(t.maintenance)
	return t
}

func (t *Tree) AddBotService(svc suture.Service) suture.ServiceToken { return t.bot.Add(svc) }

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken { return t.api.Add(svc) }

func (t *Tree) AddMaintenanceService(svc suture.Service) suture.ServiceToken {
	return t.maintenance.Add(svc)
}

// Serve блокируется до отмены ctx.
func (t *Tree) Serve(ctx context.Context) error { return t.root.Serve(ctx) }

func (t *Tree) ServeBackground(ctx context.Context) <-chan error { return t.root.ServeBackground(ctx) }

func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// EventHook пишет события suture в zerolog.
func EventHook(log zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		var ev *zerolog.Event
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeStopTimeout:
			ev = log.Error()
		case suture.EventTypeServiceTerminate, suture.EventTypeBackoff:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		ev.Fields(e.Map()).Msg(e.String())
	}
}
