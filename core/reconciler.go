package core

import (
	"context"
	"fmt"
	"strings"
)

// Reconciler settles completion signals from either channel into the
// mapping and credit ledgers.
type Reconciler struct {
	Ledger     *MappingLedger
	Credits    *CreditLedger
	Users      UserStore
	Workflows  WorkflowStore
	Mailer     Mailer
	Backend    TaskBackend
	Heuristics Heuristics
	Addresses  Addresses
	Logger     Logger
}

func (r *Reconciler) Reconcile(ctx context.Context, event CompletionEvent) (ReconcileResult, error) {
	if r == nil || r.Ledger == nil || r.Credits == nil || r.Mailer == nil || r.Users == nil {
		return ReconcileResult{}, fmt.Errorf("core: reconciler is not configured")
	}
	switch event.Channel {
	case CompletionChannelEmail:
		if event.Reply == nil {
			return ReconcileResult{}, NewBadInputError("core: email completion requires a reply", nil)
		}
		return r.reconcileReply(ctx, *event.Reply)
	case CompletionChannelWebhook:
		if event.Webhook == nil {
			return ReconcileResult{}, NewBadInputError("core: webhook completion requires an event", nil)
		}
		return r.reconcileWebhook(ctx, *event.Webhook)
	default:
		return ReconcileResult{}, NewBadInputError("core: unsupported completion channel", map[string]any{"channel": event.Channel})
	}
}

func (r *Reconciler) reconcileReply(ctx context.Context, reply InboundEmail) (ReconcileResult, error) {
	fields := map[string]any{"channel": string(CompletionChannelEmail), "subject": reply.Subject}
	mapping, ok, err := r.Ledger.Correlate(ctx, reply.InReplyTo, reply.Text, reply.HTML)
	if err != nil {
		return ReconcileResult{}, err
	}
	if !ok {
		fields["text_code"] = RelayErrorCorrelationMiss
		logWarn(ctx, r.Logger, "relay.reconcile.unmatched", fields)
		return ReconcileResult{Outcome: ReconcileUnmatched}, nil
	}
	fields["mapping_id"] = mapping.ID

	heuristics := r.heuristics()
	if heuristics.IsAcknowledgment(reply.Text) {
		if _, err := r.Ledger.MarkAcknowledged(ctx, mapping.ID); err != nil {
			return ReconcileResult{}, err
		}
		logInfo(ctx, r.Logger, "relay.reconcile.acknowledged", fields)
		return ReconcileResult{Outcome: ReconcileAcknowledged, MappingID: mapping.ID}, nil
	}
	if mapping.Completed() {
		logInfo(ctx, r.Logger, "relay.reconcile.already_completed", fields)
		return ReconcileResult{Outcome: ReconcileAlreadyCompleted, MappingID: mapping.ID}, nil
	}

	user, workflow, ok, err := r.lookupParties(ctx, mapping)
	if err != nil {
		return ReconcileResult{}, err
	}
	if !ok {
		logError(ctx, r.Logger, "relay.reconcile.missing_party", fields)
		return ReconcileResult{Outcome: ReconcileSkipped, MappingID: mapping.ID}, nil
	}

	outbound := ReplyResultEmail(r.Addresses, mapping, reply, heuristics)
	result, err := r.settlement().Settle(ctx, SettlementPlan{
		Mapping: mapping,
		UserID:  user.ID,
		Amount:  workflow.CreditsPerTask,
		Reason:  TaskChargeReason(mapping.Workflow),
		Deliver: r.deliver(outbound, fields),
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	fields["credits_charged"] = result.CreditsCharged
	fields["debit"] = string(result.Debit)
	logInfo(ctx, r.Logger, "relay.reconcile."+string(result.Outcome), fields)
	return result, nil
}

func (r *Reconciler) reconcileWebhook(ctx context.Context, event WebhookEvent) (ReconcileResult, error) {
	fields := map[string]any{
		"channel":     string(CompletionChannelWebhook),
		"event_id":    event.EventID,
		"task_id":     event.TaskID,
		"stop_reason": event.StopReason,
	}
	if strings.TrimSpace(event.EventType) != WebhookEventTaskStopped {
		logInfo(ctx, r.Logger, "relay.reconcile.ignored_event", fields)
		return ReconcileResult{Outcome: ReconcileIgnored}, nil
	}
	if strings.TrimSpace(event.StopReason) != StopReasonFinish {
		logInfo(ctx, r.Logger, "relay.reconcile.awaiting_input", fields)
		return ReconcileResult{Outcome: ReconcileSkipped}, nil
	}

	mapping, err := r.Ledger.FindByExternalID(ctx, event.TaskID)
	if err != nil {
		if IsNotFound(err) {
			fields["text_code"] = RelayErrorCorrelationMiss
			logWarn(ctx, r.Logger, "relay.reconcile.unmatched", fields)
			return ReconcileResult{Outcome: ReconcileUnmatched}, nil
		}
		return ReconcileResult{}, NewInternalError(err, "core: mapping lookup failed", fields)
	}
	fields["mapping_id"] = mapping.ID
	if mapping.Completed() {
		logInfo(ctx, r.Logger, "relay.reconcile.already_completed", fields)
		return ReconcileResult{Outcome: ReconcileAlreadyCompleted, MappingID: mapping.ID}, nil
	}
	if r.Backend == nil {
		return ReconcileResult{}, fmt.Errorf("core: task backend is not configured")
	}

	attachments := make([]Attachment, 0, len(event.Attachments))
	for _, item := range event.Attachments {
		content, err := r.Backend.DownloadAttachment(ctx, item.URL)
		if err != nil {
			return ReconcileResult{}, NewExternalError(err, "core: attachment download failed", map[string]any{
				"mapping_id": mapping.ID,
				"file_name":  item.FileName,
			})
		}
		attachments = append(attachments, Attachment{
			Filename:    item.FileName,
			ContentType: "application/octet-stream",
			Content:     content,
		})
	}

	status, err := r.Backend.GetTask(ctx, event.TaskID)
	if err != nil {
		return ReconcileResult{}, NewExternalError(err, "core: task status lookup failed", fields)
	}

	user, err := r.Users.GetUserByEmail(ctx, mapping.Sender)
	if err != nil && !IsNotFound(err) {
		return ReconcileResult{}, NewInternalError(err, "core: user lookup failed", fields)
	}
	if err != nil {
		logWarn(ctx, r.Logger, "relay.reconcile.user_missing", fields)
		user = User{}
	}

	outbound := WebhookResultEmail(r.Addresses, mapping, event, attachments)
	result, err := r.settlement().Settle(ctx, SettlementPlan{
		Mapping: mapping,
		UserID:  user.ID,
		Amount:  status.CreditUsage,
		Reason:  TaskChargeReason(mapping.Workflow),
		Deliver: r.deliver(outbound, fields),
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	fields["credits_charged"] = result.CreditsCharged
	fields["debit"] = string(result.Debit)
	logInfo(ctx, r.Logger, "relay.reconcile."+string(result.Outcome), fields)
	return result, nil
}

func (r *Reconciler) lookupParties(ctx context.Context, mapping Mapping) (User, Workflow, bool, error) {
	user, err := r.Users.GetUserByEmail(ctx, mapping.Sender)
	if err != nil {
		if IsNotFound(err) {
			return User{}, Workflow{}, false, nil
		}
		return User{}, Workflow{}, false, NewInternalError(err, "core: user lookup failed", map[string]any{"mapping_id": mapping.ID})
	}
	if r.Workflows == nil {
		return User{}, Workflow{}, false, fmt.Errorf("core: workflow store is not configured")
	}
	workflow, err := r.Workflows.GetWorkflowByName(ctx, mapping.Workflow)
	if err != nil {
		if IsNotFound(err) {
			return User{}, Workflow{}, false, nil
		}
		return User{}, Workflow{}, false, NewInternalError(err, "core: workflow lookup failed", map[string]any{"mapping_id": mapping.ID})
	}
	return user, workflow, true, nil
}

func (r *Reconciler) deliver(email OutboundEmail, fields map[string]any) func(context.Context) error {
	return func(ctx context.Context) error {
		if _, err := r.Mailer.Send(ctx, email); err != nil {
			return NewExternalError(err, "core: result delivery failed", fields)
		}
		return nil
	}
}

func (r *Reconciler) settlement() *Settlement {
	return &Settlement{Ledger: r.Ledger, Credits: r.Credits, Logger: r.Logger}
}

func (r *Reconciler) heuristics() Heuristics {
	if r.Heuristics.empty() {
		return DefaultHeuristics()
	}
	return r.Heuristics
}
