package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatchNativeForwardsWithProvenance(t *testing.T) {
	ctx := context.Background()
	fixture := newRelayFixture()
	fixture.store.addWorkflow(nativeWorkflow("research", 10))
	fixture.store.addUser("alice@example.com", 50, true)

	result, err := fixture.router.Dispatch(ctx, InboundEmail{
		From:      "alice@example.com",
		To:        "research@relay.test",
		Subject:   "Find papers",
		Text:      "Look up recent work",
		HTML:      "<p>Look up recent work</p>",
		MessageID: "<m1@example.com>",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Outcome != DispatchForwarded || result.ExternalID != "msg-1" {
		t.Fatalf("unexpected result %+v", result)
	}

	sent := fixture.mailer.messages()
	if len(sent) != 1 {
		t.Fatalf("expected one forwarded email, got %d", len(sent))
	}
	forward := sent[0]
	if forward.To != "research@backend.test" || forward.From != "relay@relay.test" {
		t.Fatalf("unexpected forward routing %+v", forward)
	}
	wantPrefix := "[relay request from: alice@example.com]\n[Mapping ID: " + result.MappingID + "]\n\n"
	if !strings.HasPrefix(forward.Text, wantPrefix) {
		t.Fatalf("expected provenance prefix, got %q", forward.Text)
	}
	if !strings.Contains(forward.HTML, MappingToken(result.MappingID)) {
		t.Fatalf("expected html marker, got %q", forward.HTML)
	}
	if forward.Headers[HeaderMappingID] != result.MappingID || forward.Headers[HeaderOriginalSender] != "alice@example.com" {
		t.Fatalf("unexpected headers %+v", forward.Headers)
	}

	mapping := fixture.store.mapping(result.MappingID)
	if mapping.ExternalID == nil || *mapping.ExternalID != "msg-1" {
		t.Fatalf("expected external id to be committed, got %+v", mapping)
	}
	if fixture.store.user(fixture.mustUser(t, "alice@example.com").ID).Credits != 50 {
		t.Fatalf("dispatch must not charge")
	}
}

func TestDispatchDuplicateDeliveryIsNoop(t *testing.T) {
	ctx := context.Background()
	fixture := newRelayFixture()
	fixture.store.addWorkflow(nativeWorkflow("research", 10))
	fixture.store.addUser("alice@example.com", 50, true)
	email := InboundEmail{From: "alice@example.com", To: "research@relay.test", Text: "x", MessageID: "<dup@example.com>"}

	first, err := fixture.router.Dispatch(ctx, email)
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	second, err := fixture.router.Dispatch(ctx, email)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if second.Outcome != DispatchDuplicate || second.MappingID != first.MappingID {
		t.Fatalf("expected duplicate outcome for same mapping, got %+v", second)
	}
	if len(fixture.mailer.messages()) != 1 {
		t.Fatalf("expected a single forward, got %d", len(fixture.mailer.messages()))
	}
	if fixture.store.mappingCount() != 1 {
		t.Fatalf("expected a single mapping, got %d", fixture.store.mappingCount())
	}
}

func TestDispatchNativeSendFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	fixture := newRelayFixture()
	fixture.store.addWorkflow(nativeWorkflow("research", 10))
	fixture.store.addUser("alice@example.com", 50, true)
	fixture.mailer.err = errors.New("smtp down")
	email := InboundEmail{From: "alice@example.com", To: "research@relay.test", Text: "x", MessageID: "<retry@example.com>"}

	_, err := fixture.router.Dispatch(ctx, email)
	if err == nil {
		t.Fatalf("expected send failure")
	}
	if HTTPStatus(err) != 502 || TextCode(err) != RelayErrorExternalFailure {
		t.Fatalf("expected external failure, got status=%d code=%q", HTTPStatus(err), TextCode(err))
	}

	fixture.mailer.err = nil
	result, err := fixture.router.Dispatch(ctx, email)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if result.Outcome != DispatchForwarded {
		t.Fatalf("expected redelivery to resume the forward, got %+v", result)
	}
	if fixture.store.mappingCount() != 1 {
		t.Fatalf("expected the original mapping to be reused")
	}
}

func TestDispatchPrivateWorkflowForbidden(t *testing.T) {
	ctx := context.Background()
	fixture := newRelayFixture()
	owner := fixture.store.addUser("owner@example.com", 50, true)
	ownerID := owner.ID
	private := nativeWorkflow("secret", 5)
	private.Visibility = WorkflowVisibilityPrivate
	private.OwnerID = &ownerID
	fixture.store.addWorkflow(private)
	fixture.store.addUser("stranger@example.com", 50, true)

	result, err := fixture.router.Dispatch(ctx, InboundEmail{From: "stranger@example.com", To: "secret@relay.test", MessageID: "<p2@example.com>"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Outcome != DispatchRejected || result.Rejection.Reason != RejectionForbidden {
		t.Fatalf("expected forbidden rejection, got %+v", result)
	}
	if fixture.store.mappingCount() != 0 {
		t.Fatalf("expected no mapping for a rejected request")
	}
	sent := fixture.mailer.messages()
	last := sent[len(sent)-1]
	if last.From != "noreply@relay.test" || last.Subject != "[Relay] Request Could Not Be Processed" {
		t.Fatalf("unexpected bounce %+v", last)
	}
	if !strings.Contains(last.Text, "Reason: You are not allowed to use workflow: secret") {
		t.Fatalf("unexpected bounce body %q", last.Text)
	}
}

func TestDispatchAPIWorkflowCreatesTask(t *testing.T) {
	ctx := context.Background()
	fixture := newRelayFixture()
	workflow := nativeWorkflow("summarize", 5)
	workflow.Kind = WorkflowKindAPI
	workflow.Instruction = "Summarize the following."
	fixture.store.addWorkflow(workflow)
	fixture.store.addUser("bob@example.com", 20, true)
	fixture.backend.task = Task{ID: "task-9", Title: "Summary", URL: "https://backend.test/t/9"}
	fixture.router.AgentProfile = "standard"

	result, err := fixture.router.Dispatch(ctx, InboundEmail{
		From:        "bob@example.com",
		To:          "summarize@relay.test",
		Text:        "Long article",
		MessageID:   "<api@example.com>",
		Attachments: []Attachment{{Filename: "a.txt", Content: []byte("hi")}},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Outcome != DispatchSubmitted || result.ExternalID != "task-9" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(fixture.backend.created) != 1 {
		t.Fatalf("expected one task creation")
	}
	req := fixture.backend.created[0]
	if req.Prompt != "Summarize the following.\n\nLong article" || req.AgentProfile != "standard" || len(req.Attachments) != 1 {
		t.Fatalf("unexpected task request %+v", req)
	}
	sent := fixture.mailer.messages()
	if len(sent) != 1 || !strings.Contains(sent[0].Text, "https://backend.test/t/9") {
		t.Fatalf("expected accepted notice with task url, got %+v", sent)
	}
}

func TestDispatchAPIFailureSendsApologyWithoutCharge(t *testing.T) {
	ctx := context.Background()
	fixture := newRelayFixture()
	workflow := nativeWorkflow("summarize", 5)
	workflow.Kind = WorkflowKindAPI
	fixture.store.addWorkflow(workflow)
	user := fixture.store.addUser("bob@example.com", 20, true)
	fixture.backend.createErr = errors.New("backend 503")

	result, err := fixture.router.Dispatch(ctx, InboundEmail{From: "bob@example.com", To: "summarize@relay.test", Text: "x", MessageID: "<f@example.com>"})
	if err != nil {
		t.Fatalf("api failure must not surface as an error: %v", err)
	}
	if result.Outcome != DispatchFailed {
		t.Fatalf("expected failed outcome, got %+v", result)
	}
	mapping := fixture.store.mapping(result.MappingID)
	if mapping.Status != MappingStatusPending || mapping.Dispatched() {
		t.Fatalf("expected pending mapping without external id, got %+v", mapping)
	}
	if fixture.store.user(user.ID).Credits != 20 {
		t.Fatalf("expected no charge")
	}
	sent := fixture.mailer.messages()
	if len(sent) != 1 || !strings.Contains(sent[0].Subject, "could not be started") {
		t.Fatalf("expected apology email, got %+v", sent)
	}
	if !fixture.logger.has("error", "relay.dispatch.task_failed") {
		t.Fatalf("expected task failure to be logged")
	}
}

// gate blocks the first caller until released.
type gate struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) wait() {
	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.release
	}
}

type gatedMailer struct {
	*captureMailer
	gate *gate
}

func (m gatedMailer) Send(ctx context.Context, email OutboundEmail) (string, error) {
	m.gate.wait()
	return m.captureMailer.Send(ctx, email)
}

type gatedBackend struct {
	*stubBackend
	gate *gate
}

func (b gatedBackend) CreateTask(ctx context.Context, req CreateTaskRequest) (Task, error) {
	b.gate.wait()
	return b.stubBackend.CreateTask(ctx, req)
}

func TestDispatchConcurrentRedeliveryForwardsOnce(t *testing.T) {
	ctx := context.Background()
	fixture := newRelayFixture()
	fixture.store.addWorkflow(nativeWorkflow("research", 10))
	fixture.store.addUser("alice@example.com", 50, true)
	g := newGate()
	fixture.router.Mailer = gatedMailer{captureMailer: fixture.mailer, gate: g}
	email := InboundEmail{From: "alice@example.com", To: "research@relay.test", Text: "x", MessageID: "<race@example.com>"}

	var (
		wg       sync.WaitGroup
		first    DispatchResult
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstErr = fixture.router.Dispatch(ctx, email)
	}()
	<-g.entered

	second, err := fixture.router.Dispatch(ctx, email)
	close(g.release)
	wg.Wait()

	if err != nil || firstErr != nil {
		t.Fatalf("dispatch errors: first=%v second=%v", firstErr, err)
	}
	if first.Outcome != DispatchForwarded {
		t.Fatalf("expected first delivery to forward, got %+v", first)
	}
	if second.Outcome != DispatchDuplicate || second.MappingID != first.MappingID {
		t.Fatalf("expected in-flight redelivery to be a duplicate, got %+v", second)
	}
	if got := len(fixture.mailer.messages()); got != 1 {
		t.Fatalf("expected a single forward, got %d", got)
	}
	if !fixture.logger.has("info", "relay.dispatch.in_flight") {
		t.Fatalf("expected in-flight duplicate to be logged")
	}
}

func TestDispatchConcurrentRedeliveryCreatesOneTask(t *testing.T) {
	ctx := context.Background()
	fixture := newRelayFixture()
	workflow := nativeWorkflow("summarize", 5)
	workflow.Kind = WorkflowKindAPI
	fixture.store.addWorkflow(workflow)
	fixture.store.addUser("bob@example.com", 20, true)
	fixture.backend.task = Task{ID: "task-1", Title: "Summary"}
	g := newGate()
	fixture.router.Backend = gatedBackend{stubBackend: fixture.backend, gate: g}
	email := InboundEmail{From: "bob@example.com", To: "summarize@relay.test", Text: "x", MessageID: "<race-api@example.com>"}

	var (
		wg    sync.WaitGroup
		first DispatchResult
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, _ = fixture.router.Dispatch(ctx, email)
	}()
	<-g.entered

	second, err := fixture.router.Dispatch(ctx, email)
	close(g.release)
	wg.Wait()

	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if second.Outcome != DispatchDuplicate {
		t.Fatalf("expected duplicate, got %+v", second)
	}
	if len(fixture.backend.created) != 1 {
		t.Fatalf("expected one backend task, got %d", len(fixture.backend.created))
	}
	mapping := fixture.store.mapping(first.MappingID)
	if mapping.ExternalID == nil || *mapping.ExternalID != "task-1" {
		t.Fatalf("expected task id to stay correlated, got %+v", mapping)
	}
}

type noIDMailer struct{ *captureMailer }

func (m noIDMailer) Send(ctx context.Context, email OutboundEmail) (string, error) {
	_, err := m.captureMailer.Send(ctx, email)
	return "", err
}

func TestDispatchForwardWithoutMessageIDIsCommitted(t *testing.T) {
	ctx := context.Background()
	fixture := newRelayFixture()
	fixture.store.addWorkflow(nativeWorkflow("research", 10))
	fixture.store.addUser("alice@example.com", 50, true)
	fixture.router.Mailer = noIDMailer{fixture.mailer}
	email := InboundEmail{From: "alice@example.com", To: "research@relay.test", Text: "x", MessageID: "<noid@example.com>"}

	first, err := fixture.router.Dispatch(ctx, email)
	if err != nil || first.Outcome != DispatchForwarded {
		t.Fatalf("first dispatch: %+v %v", first, err)
	}
	if !fixture.store.mapping(first.MappingID).Dispatched() {
		t.Fatalf("expected forward to be committed without an external id")
	}
	second, err := fixture.router.Dispatch(ctx, email)
	if err != nil || second.Outcome != DispatchDuplicate {
		t.Fatalf("expected redelivery to be a duplicate, got %+v %v", second, err)
	}
	if len(fixture.mailer.messages()) != 1 {
		t.Fatalf("expected a single forward, got %d", len(fixture.mailer.messages()))
	}
}

func TestDispatchStaleClaimIsTakenOver(t *testing.T) {
	ctx := context.Background()
	fixture := newRelayFixture()
	fixture.store.addWorkflow(nativeWorkflow("research", 10))
	fixture.store.addUser("alice@example.com", 50, true)
	original := "<stale@example.com>"
	mapping, _, err := fixture.ledger.Create(ctx, &original, "alice@example.com", "research")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	claimedAt := fixture.ledger.Now().Add(-time.Hour)
	if ok, _ := fixture.store.ClaimDispatch(ctx, mapping.ID, claimedAt, claimedAt.Add(-time.Minute)); !ok {
		t.Fatalf("expected seed claim")
	}

	result, err := fixture.router.Dispatch(ctx, InboundEmail{From: "alice@example.com", To: "research@relay.test", Text: "x", MessageID: original})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Outcome != DispatchForwarded {
		t.Fatalf("expected an abandoned claim to be taken over, got %+v", result)
	}
}

type failingCommitStore struct {
	*memoryStore
}

func (s failingCommitStore) MarkDispatched(context.Context, string, string, time.Time) (bool, error) {
	return false, errors.New("db gone")
}

func TestDispatchCommitFailureLogsOrphanedTask(t *testing.T) {
	ctx := context.Background()
	fixture := newRelayFixture()
	workflow := nativeWorkflow("summarize", 5)
	workflow.Kind = WorkflowKindAPI
	fixture.store.addWorkflow(workflow)
	fixture.store.addUser("bob@example.com", 20, true)
	fixture.backend.task = Task{ID: "task-9"}
	fixture.ledger.Store = failingCommitStore{fixture.store}
	email := InboundEmail{From: "bob@example.com", To: "summarize@relay.test", Text: "x", MessageID: "<orphan@example.com>"}

	result, err := fixture.router.Dispatch(ctx, email)
	if err != nil {
		t.Fatalf("commit failure must not surface as a retryable error: %v", err)
	}
	if result.Outcome != DispatchSubmitted || result.ExternalID != "task-9" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !fixture.logger.has("error", "relay.dispatch.orphaned") {
		t.Fatalf("expected orphaned task to be logged")
	}

	again, err := fixture.router.Dispatch(ctx, email)
	if err != nil || again.Outcome != DispatchDuplicate {
		t.Fatalf("expected redelivery to be absorbed by the claim, got %+v %v", again, err)
	}
	if len(fixture.backend.created) != 1 {
		t.Fatalf("expected one backend task, got %d", len(fixture.backend.created))
	}
}

func TestTaskPrompt(t *testing.T) {
	if got := TaskPrompt("", "body"); got != "body" {
		t.Fatalf("expected bare body, got %q", got)
	}
	if got := TaskPrompt(" Do it ", "body"); got != "Do it\n\nbody" {
		t.Fatalf("unexpected prompt %q", got)
	}
}

func (f *relayFixture) mustUser(t *testing.T, email string) User {
	t.Helper()
	user, err := f.store.GetUserByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("user %s: %v", email, err)
	}
	return user
}
