package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore emulates the conditional statements of the sql store.
type memoryStore struct {
	mu           sync.Mutex
	users        map[string]User
	workflows    map[string]Workflow
	approved     map[string]bool
	mappings     map[string]Mapping
	transactions []Transaction
	failLookups  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:     map[string]User{},
		workflows: map[string]Workflow{},
		approved:  map[string]bool{},
		mappings:  map[string]Mapping{},
	}
}

func (s *memoryStore) addUser(email string, credits int, approved bool) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := User{ID: uuid.NewString(), Email: NormalizeEmail(email), Credits: credits, Approved: approved}
	s.users[user.ID] = user
	return user
}

func (s *memoryStore) addWorkflow(workflow Workflow) Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}
	s.workflows[workflow.Name] = workflow
	return workflow
}

func (s *memoryStore) approve(workflowID string, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approved[workflowID+"|"+NormalizeEmail(email)] = true
}

func (s *memoryStore) user(id string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

func (s *memoryStore) mapping(id string) Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mappings[id]
}

func (s *memoryStore) mappingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mappings)
}

func (s *memoryStore) transactionsFor(userID string) []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Transaction{}
	for _, txn := range s.transactions {
		if txn.UserID == userID {
			out = append(out, txn)
		}
	}
	return out
}

func (s *memoryStore) GetUser(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLookups != nil {
		return User{}, s.failLookups
	}
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *memoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLookups != nil {
		return User{}, s.failLookups
	}
	for _, user := range s.users {
		if user.Email == NormalizeEmail(email) {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *memoryStore) GetWorkflowByName(_ context.Context, name string) (Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	workflow, ok := s.workflows[name]
	if !ok {
		return Workflow{}, ErrNotFound
	}
	return workflow, nil
}

func (s *memoryStore) ListPublicWorkflows(context.Context) ([]Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Workflow{}
	for _, workflow := range s.workflows {
		if !workflow.Private() {
			out = append(out, workflow)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memoryStore) IsApprovedSender(_ context.Context, workflowID string, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.approved[workflowID+"|"+NormalizeEmail(email)], nil
}

func (s *memoryStore) GetMapping(_ context.Context, id string) (Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping, ok := s.mappings[id]
	if !ok {
		return Mapping{}, ErrNotFound
	}
	return mapping, nil
}

func (s *memoryStore) FindByOriginalMessageID(_ context.Context, messageID string) (Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mapping := range s.mappings {
		if mapping.OriginalMessageID != nil && *mapping.OriginalMessageID == messageID {
			return mapping, nil
		}
	}
	return Mapping{}, ErrNotFound
}

func (s *memoryStore) FindByExternalID(_ context.Context, externalID string) (Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mapping := range s.mappings {
		if mapping.ExternalID != nil && *mapping.ExternalID == externalID {
			return mapping, nil
		}
	}
	return Mapping{}, ErrNotFound
}

func (s *memoryStore) FindByReference(ctx context.Context, messageID string) (Mapping, error) {
	if mapping, err := s.FindByOriginalMessageID(ctx, messageID); err == nil {
		return mapping, nil
	}
	return s.FindByExternalID(ctx, messageID)
}

func (s *memoryStore) InsertMapping(_ context.Context, mapping Mapping) (Mapping, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mapping.OriginalMessageID != nil {
		for _, existing := range s.mappings {
			if existing.OriginalMessageID != nil && *existing.OriginalMessageID == *mapping.OriginalMessageID {
				return existing, false, nil
			}
		}
	}
	s.mappings[mapping.ID] = mapping
	return mapping, true, nil
}

func (s *memoryStore) ClaimDispatch(_ context.Context, mappingID string, claimedAt time.Time, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping, ok := s.mappings[mappingID]
	if !ok || mapping.Status != MappingStatusPending || mapping.Dispatched() {
		return false, nil
	}
	if mapping.DispatchClaimedAt != nil && !mapping.DispatchClaimedAt.Before(staleBefore) {
		return false, nil
	}
	mapping.DispatchClaimedAt = &claimedAt
	s.mappings[mappingID] = mapping
	return true, nil
}

func (s *memoryStore) ReleaseDispatch(_ context.Context, mappingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping, ok := s.mappings[mappingID]
	if !ok {
		return ErrNotFound
	}
	if mapping.DispatchedAt == nil {
		mapping.DispatchClaimedAt = nil
		s.mappings[mappingID] = mapping
	}
	return nil
}

func (s *memoryStore) MarkDispatched(_ context.Context, mappingID string, externalID string, dispatchedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping, ok := s.mappings[mappingID]
	if !ok || mapping.DispatchedAt != nil {
		return false, nil
	}
	if externalID != "" {
		mapping.ExternalID = &externalID
	}
	mapping.DispatchedAt = &dispatchedAt
	s.mappings[mappingID] = mapping
	return true, nil
}

func (s *memoryStore) MarkAcknowledged(_ context.Context, mappingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping, ok := s.mappings[mappingID]
	if !ok || mapping.Status != MappingStatusPending {
		return false, nil
	}
	mapping.Status = MappingStatusAcknowledged
	s.mappings[mappingID] = mapping
	return true, nil
}

func (s *memoryStore) MarkCompleted(_ context.Context, mappingID string, creditsCharged int, completedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping, ok := s.mappings[mappingID]
	if !ok || mapping.Status == MappingStatusCompleted {
		return false, nil
	}
	mapping.Status = MappingStatusCompleted
	mapping.CreditsCharged = &creditsCharged
	mapping.CompletedAt = &completedAt
	s.mappings[mappingID] = mapping
	return true, nil
}

func (s *memoryStore) Debit(_ context.Context, req DebitRequest) (DebitOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, txn := range s.transactions {
		if txn.UserID == req.UserID && txn.MappingID != nil && *txn.MappingID == req.MappingID {
			return DebitDuplicate, nil
		}
	}
	user, ok := s.users[req.UserID]
	if !ok || user.Credits < req.Amount {
		return DebitInsufficient, nil
	}
	user.Credits -= req.Amount
	s.users[user.ID] = user
	mappingID := req.MappingID
	s.transactions = append(s.transactions, Transaction{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Delta:     -req.Amount,
		Reason:    req.Reason,
		MappingID: &mappingID,
	})
	return DebitApplied, nil
}

func (s *memoryStore) Grant(_ context.Context, userID string, amount int, reason string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	user.Credits += amount
	s.users[userID] = user
	txn := Transaction{ID: uuid.NewString(), UserID: userID, Delta: amount, Reason: reason}
	s.transactions = append(s.transactions, txn)
	return txn, nil
}

func (s *memoryStore) ListTransactions(_ context.Context, userID string) ([]Transaction, error) {
	return s.transactionsFor(userID), nil
}

type captureMailer struct {
	mu      sync.Mutex
	sent    []OutboundEmail
	err     error
	counter int
}

func (m *captureMailer) Send(_ context.Context, email OutboundEmail) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.counter++
	m.sent = append(m.sent, email)
	return fmt.Sprintf("msg-%d", m.counter), nil
}

func (m *captureMailer) messages() []OutboundEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OutboundEmail(nil), m.sent...)
}

type stubBackend struct {
	mu          sync.Mutex
	task        Task
	createErr   error
	status      TaskStatus
	statusErr   error
	files       map[string][]byte
	downloadErr error
	created     []CreateTaskRequest
	statusCalls int
}

func (b *stubBackend) CreateTask(_ context.Context, req CreateTaskRequest) (Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, req)
	if b.createErr != nil {
		return Task{}, b.createErr
	}
	return b.task, nil
}

func (b *stubBackend) GetTask(_ context.Context, taskID string) (TaskStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusCalls++
	if b.statusErr != nil {
		return TaskStatus{}, b.statusErr
	}
	status := b.status
	status.ID = taskID
	return status, nil
}

func (b *stubBackend) DownloadAttachment(_ context.Context, url string) ([]byte, error) {
	if b.downloadErr != nil {
		return nil, b.downloadErr
	}
	return b.files[url], nil
}

type capturedLog struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu      *sync.Mutex
	records *[]capturedLog
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return l
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, args: append([]any(nil), args...)})
}

func (l *captureLogger) has(level string, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, record := range *l.records {
		if record.level == level && record.msg == msg {
			return true
		}
	}
	return false
}

type relayFixture struct {
	store      *memoryStore
	mailer     *captureMailer
	backend    *stubBackend
	logger     *captureLogger
	ledger     *MappingLedger
	credits    *CreditLedger
	router     *DispatchRouter
	reconciler *Reconciler
	addresses  Addresses
}

func newRelayFixture() *relayFixture {
	store := newMemoryStore()
	mailer := &captureMailer{}
	backend := &stubBackend{files: map[string][]byte{}}
	logger := newCaptureLogger()
	addresses := Addresses{FromDomain: "relay.test", RelayAddress: "relay@relay.test"}
	ledger := NewMappingLedger(store)
	ledger.Now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	credits := NewCreditLedger(store)
	resolver := NewWorkflowResolver(store, store)
	guard := NewEntitlementGuard(store, store, resolver)
	return &relayFixture{
		store:   store,
		mailer:  mailer,
		backend: backend,
		logger:  logger,
		ledger:  ledger,
		credits: credits,
		router: &DispatchRouter{
			Guard:     guard,
			Ledger:    ledger,
			Mailer:    mailer,
			Backend:   backend,
			Addresses: addresses,
			Logger:    logger,
		},
		reconciler: &Reconciler{
			Ledger:    ledger,
			Credits:   credits,
			Users:     store,
			Workflows: store,
			Mailer:    mailer,
			Backend:   backend,
			Addresses: addresses,
			Logger:    logger,
		},
		addresses: addresses,
	}
}

func nativeWorkflow(name string, credits int) Workflow {
	return Workflow{
		Name:             name,
		Kind:             WorkflowKindNative,
		Visibility:       WorkflowVisibilityPublic,
		Active:           true,
		CreditsPerTask:   credits,
		ExecutionAddress: name + "@backend.test",
	}
}
