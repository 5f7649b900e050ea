package consent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/savegress/careledger/pkg/models"
	"github.com/savegress/careledger/pkg/workerpool"
)

const (
	doctorAddr   = "0x2222222222222222222222222222222222222222"
	otherDoctor  = "0x4444444444444444444444444444444444444444"
	patientOne   = "0x1111111111111111111111111111111111111111"
	patientTwo   = "0x3333333333333333333333333333333333333333"
	patientThree = "0x5555555555555555555555555555555555555555"
)

// mockLedger keeps grant/revoke state per (patient, doctor) pair so
// effective-access sequences behave like the real contract.
type mockLedger struct {
	mu       sync.Mutex
	access   map[string]bool
	requests map[string][]models.AccessRequest
	receipt  models.Receipt
	err      error

	requestCalls   int
	grantCalls     int
	revokeCalls    int
	listCalls      int
	hasAccessCalls int
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		access:   make(map[string]bool),
		requests: make(map[string][]models.AccessRequest),
		receipt:  models.Receipt{TxHash: "0xabc", SubmittedAt: time.Now().UTC()},
	}
}

func pairKey(patient, doctor string) string { return patient + "/" + doctor }

func (m *mockLedger) RequestAccess(ctx context.Context, patient, doctor string) (models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCalls++
	if m.err != nil {
		return models.Receipt{}, m.err
	}
	m.requests[patient] = append(m.requests[patient], models.AccessRequest{
		Doctor: doctor, Patient: patient, Status: models.StatusPending,
	})
	return m.receipt, nil
}

func (m *mockLedger) GrantAccess(ctx context.Context, patient, doctor string, at time.Time) (models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grantCalls++
	if m.err != nil {
		return models.Receipt{}, m.err
	}
	m.access[pairKey(patient, doctor)] = true
	return m.receipt, nil
}

func (m *mockLedger) RevokeAccess(ctx context.Context, patient, doctor string, at time.Time) (models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeCalls++
	if m.err != nil {
		return models.Receipt{}, m.err
	}
	m.access[pairKey(patient, doctor)] = false
	return m.receipt, nil
}

func (m *mockLedger) HasAccess(ctx context.Context, patient, doctor string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasAccessCalls++
	if m.err != nil {
		return false, m.err
	}
	return m.access[pairKey(patient, doctor)], nil
}

func (m *mockLedger) ListAccessRequests(ctx context.Context, patient string) ([]models.AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.err != nil {
		return nil, m.err
	}
	return m.requests[patient], nil
}

func (m *mockLedger) ListResolvedRequests(ctx context.Context, patient string) ([]models.AccessRequest, error) {
	return nil, nil
}

func (m *mockLedger) SubmitRecord(ctx context.Context, record models.HealthRecord) (models.Receipt, error) {
	return models.Receipt{}, nil
}

func (m *mockLedger) ReadLatestRecord(ctx context.Context, owner, caller string) (*models.HealthRecord, error) {
	return nil, nil
}

func (m *mockLedger) ReadHistory(ctx context.Context, owner, caller string) ([]models.HealthRecord, error) {
	return nil, nil
}

type mockRoster struct {
	patients []string
	err      error
}

func (r *mockRoster) ListAddressesByRole(ctx context.Context, role models.Role) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.patients, nil
}

type mockNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *mockNotifier) NotifyConsent(event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *mockNotifier) all() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}

func asDoctor(addr string) models.Principal {
	return models.Principal{ID: "usr_doctor", Address: addr, Role: models.RoleDoctor}
}

func asPatient(addr string) models.Principal {
	return models.Principal{ID: "usr_patient", Address: addr, Role: models.RolePatient}
}

func newEngine(t *testing.T, m *mockLedger, roster Roster, notifier Notifier) *Engine {
	t.Helper()
	pool, err := workerpool.New(workerpool.Config{
		Workers:         4,
		QueueSize:       16,
		ShutdownTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("workerpool.New failed: %v", err)
	}
	t.Cleanup(func() { pool.Stop() })

	if roster == nil {
		roster = &mockRoster{}
	}
	return New(m, roster, pool, nil, notifier)
}

func TestRequest(t *testing.T) {
	m := newMockLedger()
	n := &mockNotifier{}
	e := newEngine(t, m, nil, n)

	receipt, err := e.Request(context.Background(), asDoctor(doctorAddr), patientOne)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if receipt.TxHash != "0xabc" {
		t.Errorf("unexpected receipt %+v", receipt)
	}
	if m.requestCalls != 1 {
		t.Errorf("expected 1 requestAccess transaction, got %d", m.requestCalls)
	}

	events := n.all()
	if len(events) != 1 || events[0].Type != EventRequested {
		t.Fatalf("expected one %s event, got %+v", EventRequested, events)
	}
	if events[0].Doctor != doctorAddr || events[0].Patient != patientOne {
		t.Errorf("event carries wrong pair: %+v", events[0])
	}
}

func TestRequest_PatientForbidden(t *testing.T) {
	m := newMockLedger()
	e := newEngine(t, m, nil, nil)

	_, err := e.Request(context.Background(), asPatient(patientOne), patientTwo)
	if !errors.Is(err, models.ErrForbiddenRole) {
		t.Fatalf("expected ErrForbiddenRole, got %v", err)
	}
	if m.requestCalls != 0 {
		t.Error("forbidden request must not reach the ledger")
	}
}

func TestApprove(t *testing.T) {
	m := newMockLedger()
	n := &mockNotifier{}
	e := newEngine(t, m, nil, n)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return at }

	if _, err := e.Approve(context.Background(), asPatient(patientOne), doctorAddr); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if m.grantCalls != 1 {
		t.Errorf("expected 1 grant transaction, got %d", m.grantCalls)
	}

	events := n.all()
	if len(events) != 1 || events[0].Type != EventGranted {
		t.Fatalf("expected one %s event, got %+v", EventGranted, events)
	}
	if !events[0].At.Equal(at) {
		t.Errorf("expected event stamped %v, got %v", at, events[0].At)
	}
}

func TestApprove_DoctorForbidden(t *testing.T) {
	m := newMockLedger()
	e := newEngine(t, m, nil, nil)

	_, err := e.Approve(context.Background(), asDoctor(doctorAddr), otherDoctor)
	if !errors.Is(err, models.ErrForbiddenRole) {
		t.Fatalf("expected ErrForbiddenRole, got %v", err)
	}
	if m.grantCalls != 0 {
		t.Error("forbidden approval must not reach the ledger")
	}
}

// The chronologically last transition wins, whatever came before it.
func TestEffectiveAccess_LastTransitionWins(t *testing.T) {
	m := newMockLedger()
	e := newEngine(t, m, nil, nil)
	ctx := context.Background()
	patient := asPatient(patientOne)
	doctor := asDoctor(doctorAddr)

	if _, err := e.Request(ctx, doctor, patientOne); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if allowed, _ := e.EffectiveAccess(ctx, patientOne, doctorAddr); allowed {
		t.Error("pending request must not confer access")
	}

	if _, err := e.Approve(ctx, patient, doctorAddr); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if allowed, _ := e.EffectiveAccess(ctx, patientOne, doctorAddr); !allowed {
		t.Error("expected access after approval")
	}

	if _, err := e.Revoke(ctx, patient, doctorAddr); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if allowed, _ := e.EffectiveAccess(ctx, patientOne, doctorAddr); allowed {
		t.Error("expected no access after revocation")
	}

	// Re-entrant: a later approval restores access
	if _, err := e.Approve(ctx, patient, doctorAddr); err != nil {
		t.Fatalf("second Approve failed: %v", err)
	}
	if allowed, _ := e.EffectiveAccess(ctx, patientOne, doctorAddr); !allowed {
		t.Error("expected access restored by the latest approval")
	}
}

func TestRequestsForPatient(t *testing.T) {
	m := newMockLedger()
	e := newEngine(t, m, nil, nil)
	ctx := context.Background()

	if _, err := e.Request(ctx, asDoctor(doctorAddr), patientOne); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	requests, err := e.RequestsForPatient(ctx, asPatient(patientOne))
	if err != nil {
		t.Fatalf("RequestsForPatient failed: %v", err)
	}
	if len(requests) != 1 || requests[0].Doctor != doctorAddr {
		t.Errorf("unexpected requests: %+v", requests)
	}

	if _, err := e.RequestsForPatient(ctx, asDoctor(doctorAddr)); !errors.Is(err, models.ErrForbiddenRole) {
		t.Errorf("expected ErrForbiddenRole for doctor caller, got %v", err)
	}
}

func TestRequestsByDoctor(t *testing.T) {
	m := newMockLedger()
	m.requests[patientOne] = []models.AccessRequest{
		{Doctor: doctorAddr, Patient: patientOne, Status: models.StatusPending},
		{Doctor: otherDoctor, Patient: patientOne, Status: models.StatusPending},
	}
	m.requests[patientThree] = []models.AccessRequest{
		{Doctor: doctorAddr, Patient: patientThree, Status: models.StatusPending},
	}
	m.access[pairKey(patientOne, doctorAddr)] = true

	roster := &mockRoster{patients: []string{patientOne, patientTwo, patientThree}}
	e := newEngine(t, m, roster, nil)

	out, err := e.RequestsByDoctor(context.Background(), asDoctor(doctorAddr))
	if err != nil {
		t.Fatalf("RequestsByDoctor failed: %v", err)
	}

	if len(out) != 2 {
		t.Fatalf("expected exactly the 2 requests addressed to this doctor, got %d", len(out))
	}

	// Output follows roster order regardless of fan-out scheduling
	if out[0].Request.Patient != patientOne || out[1].Request.Patient != patientThree {
		t.Errorf("expected roster order [p1, p3], got [%s, %s]",
			out[0].Request.Patient, out[1].Request.Patient)
	}
	if out[0].AccessLabel != LabelHasAccess {
		t.Errorf("expected %q for granted pair, got %q", LabelHasAccess, out[0].AccessLabel)
	}
	if out[1].AccessLabel != LabelNoAccess {
		t.Errorf("expected %q for ungranted pair, got %q", LabelNoAccess, out[1].AccessLabel)
	}

	if m.listCalls != 3 {
		t.Errorf("expected one request-list read per known patient, got %d", m.listCalls)
	}
	if m.hasAccessCalls != 2 {
		t.Errorf("expected access checks only for matching patients, got %d", m.hasAccessCalls)
	}
}

func TestRequestsByDoctor_EmptyRoster(t *testing.T) {
	m := newMockLedger()
	e := newEngine(t, m, &mockRoster{}, nil)

	out, err := e.RequestsByDoctor(context.Background(), asDoctor(doctorAddr))
	if err != nil {
		t.Fatalf("RequestsByDoctor failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty result, got %+v", out)
	}
	if m.listCalls != 0 {
		t.Error("no ledger reads expected for an empty roster")
	}
}

func TestRequestsByDoctor_RosterError(t *testing.T) {
	m := newMockLedger()
	rosterErr := errors.New("roster unavailable")
	e := newEngine(t, m, &mockRoster{err: rosterErr}, nil)

	_, err := e.RequestsByDoctor(context.Background(), asDoctor(doctorAddr))
	if !errors.Is(err, rosterErr) {
		t.Fatalf("expected roster error to surface, got %v", err)
	}
}

func TestRequestsByDoctor_LedgerError(t *testing.T) {
	m := newMockLedger()
	m.err = errors.New("connection refused")
	roster := &mockRoster{patients: []string{patientOne, patientTwo}}
	e := newEngine(t, m, roster, nil)

	_, err := e.RequestsByDoctor(context.Background(), asDoctor(doctorAddr))
	if err == nil {
		t.Fatal("expected fan-out ledger error to surface")
	}
}

func TestRequestsByDoctor_PatientForbidden(t *testing.T) {
	m := newMockLedger()
	e := newEngine(t, m, nil, nil)

	_, err := e.RequestsByDoctor(context.Background(), asPatient(patientOne))
	if !errors.Is(err, models.ErrForbiddenRole) {
		t.Fatalf("expected ErrForbiddenRole, got %v", err)
	}
}
