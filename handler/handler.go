package handler

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"recnode/constant"
	"recnode/dto"
	"recnode/service"
)

type ServiceDependencies struct {
	Scheduler *service.Scheduler
}

// CommandHandler dispatches record/cancel commands from the external
// command channel.
func CommandHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var command dto.CommandMessage
	if err := json.Unmarshal(msg.Body, &command); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal command message")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("type", string(command.Type)).
		Str("session_id", command.SessionId).
		Msg("received command")

	switch command.Type {
	case constant.CommandRecord:
		return deps.Scheduler.StartRecording(ctx, command.SessionId)
	case constant.CommandCancel:
		return deps.Scheduler.Cancel(command.SessionId)
	default:
		return fmt.Errorf("unknown command type: %s", command.Type)
	}
}
