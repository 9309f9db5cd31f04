package core

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestEntitlementGuardOrderedRejections(t *testing.T) {
	ctx := context.Background()
	fixture := newRelayFixture()
	store := fixture.store
	store.addWorkflow(nativeWorkflow("research", 10))
	store.addWorkflow(nativeWorkflow("summarize", 5))
	owner := store.addUser("owner@example.com", 50, true)
	ownerID := owner.ID
	private := nativeWorkflow("secret", 5)
	private.Visibility = WorkflowVisibilityPrivate
	private.OwnerID = &ownerID
	store.addWorkflow(private)
	store.addUser("pending@example.com", 50, false)
	store.addUser("poor@example.com", 3, true)
	store.addUser("rich@example.com", 100, true)

	cases := []struct {
		name    string
		sender  string
		key     string
		reason  RejectionReason
		message string
	}{
		{name: "unregistered", sender: "nobody@example.com", key: "research", reason: RejectionUnregistered, message: "Not registered"},
		{name: "unapproved", sender: "pending@example.com", key: "research", reason: RejectionUnapproved, message: "Account pending approval"},
		{name: "unknown workflow", sender: "rich@example.com", key: "missing", reason: RejectionUnknownWorkflow, message: "Unknown workflow: missing. Available: research, summarize"},
		{name: "forbidden", sender: "rich@example.com", key: "secret", reason: RejectionForbidden, message: "not allowed"},
		{name: "insufficient", sender: "poor@example.com", key: "research", reason: RejectionInsufficientCredits, message: "Insufficient credits. Balance: 3, Required: 10"},
		{name: "unapproved wins over unknown", sender: "pending@example.com", key: "missing", reason: RejectionUnapproved, message: "pending"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, rejection, err := fixture.router.Guard.Check(ctx, tc.sender, tc.key)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if rejection == nil {
				t.Fatalf("expected rejection %q", tc.reason)
			}
			if rejection.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, rejection.Reason)
			}
			if !strings.Contains(rejection.Message, tc.message) {
				t.Fatalf("expected message containing %q, got %q", tc.message, rejection.Message)
			}
		})
	}
}

func TestEntitlementGuardAllowsOwnerAndApprovedSender(t *testing.T) {
	ctx := context.Background()
	fixture := newRelayFixture()
	store := fixture.store
	owner := store.addUser("owner@example.com", 50, true)
	friend := store.addUser("friend@example.com", 50, true)
	ownerID := owner.ID
	private := nativeWorkflow("secret", 5)
	private.Visibility = WorkflowVisibilityPrivate
	private.OwnerID = &ownerID
	private = store.addWorkflow(private)
	store.approve(private.ID, friend.Email)

	for _, sender := range []string{"owner@example.com", "Friend@Example.com"} {
		entitlement, rejection, err := fixture.router.Guard.Check(ctx, sender, "SECRET")
		if err != nil {
			t.Fatalf("check %s: %v", sender, err)
		}
		if rejection != nil {
			t.Fatalf("expected %s to be entitled, got %+v", sender, rejection)
		}
		if entitlement.Workflow.Name != "secret" {
			t.Fatalf("expected secret workflow, got %q", entitlement.Workflow.Name)
		}
	}
}

func TestEntitlementGuardInactiveWorkflowIsUnknown(t *testing.T) {
	fixture := newRelayFixture()
	workflow := nativeWorkflow("research", 10)
	workflow.Active = false
	fixture.store.addWorkflow(workflow)
	fixture.store.addUser("rich@example.com", 100, true)

	_, rejection, err := fixture.router.Guard.Check(context.Background(), "rich@example.com", "research")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if rejection == nil || rejection.Reason != RejectionUnknownWorkflow {
		t.Fatalf("expected unknown workflow rejection, got %+v", rejection)
	}
	if rejection.TextCode() != "RELAY_REJECTED_UNKNOWN_WORKFLOW" {
		t.Fatalf("unexpected text code %q", rejection.TextCode())
	}
}

func TestEntitlementGuardStoreFailureIsError(t *testing.T) {
	fixture := newRelayFixture()
	fixture.store.failLookups = errors.New("connection refused")

	_, rejection, err := fixture.router.Guard.Check(context.Background(), "rich@example.com", "research")
	if err == nil {
		t.Fatalf("expected infrastructure error")
	}
	if rejection != nil {
		t.Fatalf("expected no rejection on store failure")
	}
	if TextCode(err) != RelayErrorInternal {
		t.Fatalf("expected internal text code, got %q", TextCode(err))
	}
}

func TestWorkflowResolverErrors(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	private := nativeWorkflow("secret", 5)
	private.Visibility = WorkflowVisibilityPrivate
	store.addWorkflow(private)
	resolver := NewWorkflowResolver(store, store)

	_, err := resolver.Resolve(ctx, "missing", User{ID: "u1"})
	if !IsNotFound(err) || TextCode(err) != RelayErrorWorkflowNotFound {
		t.Fatalf("expected workflow not found, got %v", err)
	}
	if HTTPStatus(err) != 404 {
		t.Fatalf("expected 404 status, got %d", HTTPStatus(err))
	}

	_, err = resolver.Resolve(ctx, "secret", User{ID: "u1", Email: "a@example.com"})
	if TextCode(err) != RelayErrorWorkflowForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if HTTPStatus(err) != 403 {
		t.Fatalf("expected 403 status, got %d", HTTPStatus(err))
	}
}

func TestRoutingKey(t *testing.T) {
	cases := map[string]string{
		"Research@relay.test": "research",
		"  summarize@x.y ":    "summarize",
		"plain":               "plain",
	}
	for input, want := range cases {
		if got := RoutingKey(input); got != want {
			t.Fatalf("RoutingKey(%q) = %q, want %q", input, got, want)
		}
	}
}
