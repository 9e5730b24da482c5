package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dragon-bot/dragon/internal/activation"
	"github.com/dragon-bot/dragon/internal/modules/errorlog"
	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/internal/telemetry"
	"github.com/dragon-bot/dragon/pkg/api"
)

const (
	BusyMessage     = "The bot is busy right now, try again in a moment."
	InactiveMessage = "This module is not active on this server."
	failurePrefix   = "Command failed: "
)

// Dispatch routes one inbound command to its module. The target module is
// held for writing while its handler runs. Every failure is logged, recorded
// by the error manager and reported to the actor.
func (a *App) Dispatch(ctx context.Context, in *registry.Interaction, reply registry.Responder) {
	logger := log.With().
		Str("request_id", uuid.NewString()).
		Str("tenant", in.Tenant.String()).
		Str("module", in.Command).
		Str("actor", in.Actor.ID.String()).
		Logger()

	if !a.registry.Has(in.Command) {
		telemetry.CommandsDispatched.WithLabelValues("unknown", "unknown").Inc()
		logger.Warn().Msg("command for unknown module")
		return
	}

	active, err := a.isActive(ctx, in.Tenant, in.Command)
	if err != nil {
		a.fail(ctx, logger, in, reply, err)
		return
	}
	if !active {
		telemetry.CommandsDispatched.WithLabelValues(in.Command, "inactive").Inc()
		logger.Warn().Msg("command for inactive module")
		a.reply(ctx, logger, reply, InactiveMessage)
		return
	}

	h, err := a.registry.AcquireWrite(ctx, in.Command, a.cfg.Modules.LockTimeout)
	if err != nil {
		a.fail(ctx, logger, in, reply, err)
		return
	}
	start := time.Now()
	err = h.Module().HandleCommand(ctx, &registry.Request{Interaction: in, Reply: reply, Env: a.env, Log: logger})
	h.Release()
	telemetry.CommandDuration.WithLabelValues(in.Command).Observe(time.Since(start).Seconds())

	if err != nil {
		a.fail(ctx, logger, in, reply, err)
		return
	}
	telemetry.CommandsDispatched.WithLabelValues(in.Command, "ok").Inc()
	logger.Debug().Dur("elapsed", time.Since(start)).Msg("command handled")
}

func (a *App) isActive(ctx context.Context, tenant api.Snowflake, id string) (bool, error) {
	var active bool
	err := a.registry.WithRead(ctx, activation.ID, a.cfg.Modules.LockTimeout, func(m registry.Module) error {
		active = m.(*activation.Manager).IsActive(tenant, id)
		return nil
	})
	return active, err
}

func (a *App) fail(ctx context.Context, logger zerolog.Logger, in *registry.Interaction, reply registry.Responder, err error) {
	if errors.Is(err, registry.ErrBlocked) {
		telemetry.CommandsDispatched.WithLabelValues(in.Command, "busy").Inc()
		logger.Warn().Err(err).Msg("module busy")
		a.reply(ctx, logger, reply, BusyMessage)
		return
	}

	telemetry.CommandsDispatched.WithLabelValues(in.Command, "failed").Inc()
	logger.Error().Err(err).Msg("command failed")
	a.recordError(ctx, logger, in, err)
	a.reply(ctx, logger, reply, failurePrefix+err.Error())
}

func (a *App) recordError(ctx context.Context, logger zerolog.Logger, in *registry.Interaction, cause error) {
	if !a.registry.Has(errorlog.ID) {
		return
	}
	err := a.registry.WithWrite(ctx, errorlog.ID, a.cfg.Modules.LockTimeout, func(m registry.Module) error {
		m.(*errorlog.Log).Record(in.Tenant, in.Command, in.Actor.ID, cause)
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to record command failure")
	}
}

func (a *App) reply(ctx context.Context, logger zerolog.Logger, reply registry.Responder, content string) {
	if err := reply.Reply(ctx, registry.Message{Content: content, Ephemeral: true}); err != nil {
		logger.Warn().Err(err).Msg("failed to send reply")
	}
}
