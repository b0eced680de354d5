package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"iris/constant"
	"iris/dto"
	"iris/errs"
	"iris/service"
)

type ServiceDependencies struct {
	Integrations service.IntegrationService
	// ShareChannel is the Slack channel ready meetings are posted to. Empty disables sharing.
	ShareChannel string
}

// ShareReadyMeeting posts the summary of a meeting that reached Ready.
func ShareReadyMeeting(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var event dto.MeetingEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal meeting event")
		return backoff.Permanent(errors.Join(service.ErrNonRetryable, err))
	}

	if event.Type != constant.EventStageChanged || event.Stage != constant.StageReady {
		return nil
	}
	if deps.ShareChannel == "" {
		zerolog.Ctx(ctx).Debug().Str("meeting_id", event.MeetingID).Msg("auto share disabled")
		return nil
	}

	zerolog.Ctx(ctx).Info().
		Str("meeting_id", event.MeetingID).
		Str("channel", deps.ShareChannel).
		Msg("received ready meeting")

	_, err := deps.Integrations.Share(ctx, dto.SlackShareRequest{
		Channel:   deps.ShareChannel,
		MeetingID: event.MeetingID,
		Type:      service.ShareMeeting,
	})
	if err != nil {
		if errors.Is(err, errs.ErrInvalidInput) || errors.Is(err, errs.ErrNotFound) {
			return backoff.Permanent(errors.Join(service.ErrNonRetryable, err))
		}
		return err
	}
	return nil
}
