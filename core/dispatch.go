package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DispatchRouter turns an entitled request into backend work. Native
// workflows are forwarded by email; api workflows become backend tasks.
type DispatchRouter struct {
	Guard        *EntitlementGuard
	Ledger       *MappingLedger
	Mailer       Mailer
	Backend      TaskBackend
	Addresses    Addresses
	AgentProfile string
	Logger       Logger

	// DispatchLease defaults to DefaultDispatchLease.
	DispatchLease time.Duration
}

func (d *DispatchRouter) Dispatch(ctx context.Context, email InboundEmail) (DispatchResult, error) {
	if d == nil || d.Guard == nil || d.Ledger == nil || d.Mailer == nil {
		return DispatchResult{}, fmt.Errorf("core: dispatch router is not configured")
	}
	sender := NormalizeEmail(email.From)
	routingKey := RoutingKey(email.To)
	fields := map[string]any{"sender": sender, "workflow": routingKey}

	entitlement, rejection, err := d.Guard.Check(ctx, sender, routingKey)
	if err != nil {
		return DispatchResult{}, err
	}
	if rejection != nil {
		fields["reason"] = string(rejection.Reason)
		fields["text_code"] = rejection.TextCode()
		logInfo(ctx, d.Logger, "relay.dispatch.rejected", fields)
		if _, err := d.Mailer.Send(ctx, BounceEmail(d.Addresses, sender, rejection.Message)); err != nil {
			return DispatchResult{}, NewExternalError(err, "core: bounce delivery failed", fields)
		}
		return DispatchResult{Outcome: DispatchRejected, Rejection: rejection}, nil
	}

	workflow := entitlement.Workflow
	originalID := strings.TrimSpace(email.MessageID)
	mapping, created, err := d.Ledger.Create(ctx, &originalID, sender, workflow.Name)
	if err != nil {
		return DispatchResult{}, err
	}
	fields["mapping_id"] = mapping.ID
	if !created && (mapping.Dispatched() || mapping.Status != MappingStatusPending) {
		logInfo(ctx, d.Logger, "relay.dispatch.duplicate", fields)
		return DispatchResult{Outcome: DispatchDuplicate, MappingID: mapping.ID, ExternalID: derefString(mapping.ExternalID)}, nil
	}
	claimed, err := d.Ledger.ClaimDispatch(ctx, mapping.ID, d.DispatchLease)
	if err != nil {
		return DispatchResult{}, err
	}
	if !claimed {
		logInfo(ctx, d.Logger, "relay.dispatch.in_flight", fields)
		return DispatchResult{Outcome: DispatchDuplicate, MappingID: mapping.ID, ExternalID: derefString(mapping.ExternalID)}, nil
	}

	switch workflow.Kind {
	case WorkflowKindAPI:
		return d.submitTask(ctx, email, mapping, workflow, fields)
	default:
		return d.forward(ctx, email, mapping, workflow, fields)
	}
}

func (d *DispatchRouter) forward(
	ctx context.Context,
	email InboundEmail,
	mapping Mapping,
	workflow Workflow,
	fields map[string]any,
) (DispatchResult, error) {
	messageID, err := d.Mailer.Send(ctx, ForwardEmail(d.Addresses, email, mapping, workflow))
	if err != nil {
		if releaseErr := d.Ledger.ReleaseDispatch(ctx, mapping.ID); releaseErr != nil {
			fields["release_error"] = releaseErr.Error()
			logError(ctx, d.Logger, "relay.dispatch.release_failed", fields)
		}
		return DispatchResult{}, NewExternalError(err, "core: forward to execution address failed", fields)
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		logWarn(ctx, d.Logger, "relay.dispatch.forward_without_message_id", fields)
	} else {
		fields["external_id"] = messageID
	}
	d.commit(ctx, mapping.ID, messageID, fields)
	logInfo(ctx, d.Logger, "relay.dispatch.forwarded", fields)
	return DispatchResult{Outcome: DispatchForwarded, MappingID: mapping.ID, ExternalID: messageID}, nil
}

func (d *DispatchRouter) submitTask(
	ctx context.Context,
	email InboundEmail,
	mapping Mapping,
	workflow Workflow,
	fields map[string]any,
) (DispatchResult, error) {
	if d.Backend == nil {
		return DispatchResult{}, fmt.Errorf("core: task backend is not configured")
	}
	task, err := d.Backend.CreateTask(ctx, CreateTaskRequest{
		Prompt:       TaskPrompt(workflow.Instruction, email.Text),
		AgentProfile: d.AgentProfile,
		Attachments:  email.Attachments,
	})
	if err != nil {
		fields["error"] = err.Error()
		fields["text_code"] = RelayErrorDispatchFailed
		logError(ctx, d.Logger, "relay.dispatch.task_failed", fields)
		if _, sendErr := d.Mailer.Send(ctx, DispatchFailedEmail(d.Addresses, mapping)); sendErr != nil {
			fields["apology_error"] = sendErr.Error()
			logError(ctx, d.Logger, "relay.dispatch.apology_failed", fields)
		}
		return DispatchResult{Outcome: DispatchFailed, MappingID: mapping.ID}, nil
	}
	fields["external_id"] = task.ID
	d.commit(ctx, mapping.ID, task.ID, fields)
	logInfo(ctx, d.Logger, "relay.dispatch.submitted", fields)

	if _, err := d.Mailer.Send(ctx, TaskAcceptedEmail(d.Addresses, mapping, task)); err != nil {
		fields["error"] = err.Error()
		logWarn(ctx, d.Logger, "relay.dispatch.accepted_notice_failed", fields)
	}
	return DispatchResult{Outcome: DispatchSubmitted, MappingID: mapping.ID, ExternalID: task.ID}, nil
}

// commit records a completed act phase. The backend already holds the work at
// this point, so a failed write is logged with the orphaned id and the claim
// keeps redeliveries from acting again.
func (d *DispatchRouter) commit(ctx context.Context, mappingID string, externalID string, fields map[string]any) {
	changed, err := d.Ledger.MarkDispatched(ctx, mappingID, externalID)
	if err != nil {
		fields["error"] = err.Error()
		logError(ctx, d.Logger, "relay.dispatch.orphaned", fields)
		return
	}
	if !changed {
		logWarn(ctx, d.Logger, "relay.dispatch.already_committed", fields)
	}
}

// TaskPrompt prefixes the request text with the workflow instruction.
func TaskPrompt(instruction string, text string) string {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return text
	}
	return instruction + "\n\n" + text
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
