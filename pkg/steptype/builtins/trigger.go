package builtins

import (
	"context"

	"github.com/coflow/coflow/pkg/steptype"
)

// Trigger executors are the documented golden-rule exception that reads
// input directly: a trigger's "input" IS the incoming payload (webhook body,
// schedule tick, manual invocation payload), not something to be shadowed by
// resolved_config (§4.3).

// ---------------------------------------------------------------------------
// Manual trigger
// ---------------------------------------------------------------------------

type manualTriggerExecutor struct{}

func newManualTriggerExecutor() *manualTriggerExecutor { return &manualTriggerExecutor{} }

func (e *manualTriggerExecutor) Definition() steptype.Definition {
	return steptype.Definition{
		ID: "manual_trigger", Name: "Manual Trigger", Category: "trigger",
		Description: "Starts a run when a user explicitly invokes the workflow.",
		Icon:        "play", Kind: steptype.KindTrigger,
	}
}

func (e *manualTriggerExecutor) ValidateConfig(map[string]interface{}) []steptype.FieldError {
	return nil
}

func (e *manualTriggerExecutor) Execute(_ context.Context, _ map[string]interface{}, input interface{}, _ steptype.ExecContext) (steptype.Outcome, error) {
	return steptype.OK(input), nil
}

// ---------------------------------------------------------------------------
// Webhook trigger
// ---------------------------------------------------------------------------

type webhookTriggerExecutor struct{}

func newWebhookTriggerExecutor() *webhookTriggerExecutor { return &webhookTriggerExecutor{} }

func (e *webhookTriggerExecutor) Definition() steptype.Definition {
	return steptype.Definition{
		ID: "webhook_trigger", Name: "Webhook Trigger", Category: "trigger",
		Description: "Starts a run from an inbound HTTP request to its bound path.",
		Icon:        "webhook", Kind: steptype.KindTrigger,
		ConfigSchema: map[string]interface{}{
			"required":   []string{"path"},
			"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
		},
	}
}

func (e *webhookTriggerExecutor) ValidateConfig(config map[string]interface{}) []steptype.FieldError {
	if configString(config, "path", "") == "" {
		return []steptype.FieldError{{Field: "path", Message: "path is required"}}
	}
	return nil
}

func (e *webhookTriggerExecutor) Execute(_ context.Context, _ map[string]interface{}, input interface{}, _ steptype.ExecContext) (steptype.Outcome, error) {
	return steptype.OK(input), nil
}

// ---------------------------------------------------------------------------
// Schedule trigger
// ---------------------------------------------------------------------------

type scheduleTriggerExecutor struct{}

func newScheduleTriggerExecutor() *scheduleTriggerExecutor { return &scheduleTriggerExecutor{} }

func (e *scheduleTriggerExecutor) Definition() steptype.Definition {
	return steptype.Definition{
		ID: "schedule_trigger", Name: "Schedule Trigger", Category: "trigger",
		Description: "Starts a run on a cron schedule.",
		Icon:        "calendar", Kind: steptype.KindTrigger,
		ConfigSchema: map[string]interface{}{
			"required":   []string{"cron"},
			"properties": map[string]interface{}{"cron": map[string]interface{}{"type": "string"}},
		},
	}
}

func (e *scheduleTriggerExecutor) ValidateConfig(config map[string]interface{}) []steptype.FieldError {
	if configString(config, "cron", "") == "" {
		return []steptype.FieldError{{Field: "cron", Message: "cron is required"}}
	}
	return nil
}

func (e *scheduleTriggerExecutor) Execute(_ context.Context, _ map[string]interface{}, input interface{}, _ steptype.ExecContext) (steptype.Outcome, error) {
	return steptype.OK(input), nil
}
