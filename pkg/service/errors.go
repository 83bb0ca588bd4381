package service

import "github.com/pkg/errors"

var (
	// ErrUnknownWorkflow is returned when a trigger names a workflow that has
	// no definition. No run is created.
	ErrUnknownWorkflow = errors.New("unknown workflow")

	// ErrWebhookDisabled is returned when webhook ingress is disabled for the
	// target workflow.
	ErrWebhookDisabled = errors.New("webhook is disabled")

	// ErrInvalidExpression is returned when a cron expression does not parse.
	ErrInvalidExpression = errors.New("invalid cron expression")
)
