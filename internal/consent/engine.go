package consent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/savegress/careledger/internal/audit"
	"github.com/savegress/careledger/internal/ledger"
	"github.com/savegress/careledger/pkg/models"
	"github.com/savegress/careledger/pkg/workerpool"
)

// Access labels attached to a doctor's request listing
const (
	LabelHasAccess = "Has Access"
	LabelNoAccess  = "No Access"
)

// Consent event types pushed to connected clients
const (
	EventRequested = "access_requested"
	EventGranted   = "access_granted"
	EventRevoked   = "access_revoked"
)

// Event describes a consent state change for one (doctor, patient) pair
type Event struct {
	Type    string    `json:"type"`
	Patient string    `json:"patient"`
	Doctor  string    `json:"doctor"`
	At      time.Time `json:"at"`
	TxHash  string    `json:"tx_hash,omitempty"`
}

// Roster enumerates known principals by role
type Roster interface {
	ListAddressesByRole(ctx context.Context, role models.Role) ([]string, error)
}

// Notifier pushes consent events to interested listeners. Delivery is
// best effort; consent state lives on the ledger, not in the stream.
type Notifier interface {
	NotifyConsent(event Event)
}

// DoctorRequest is one entry of a doctor's cross-patient request view
type DoctorRequest struct {
	Request     models.AccessRequest `json:"request"`
	AccessLabel string               `json:"access_label"`
}

// Engine drives the request/approve/revoke consent state machine. It
// holds no consent state of its own; every transition is a single
// ledger transaction and effective access is always re-read from the
// ledger.
type Engine struct {
	ledger   ledger.Client
	roster   Roster
	pool     *workerpool.WorkerPool
	audit    *audit.Logger
	notifier Notifier
	now      func() time.Time
}

// New creates a new consent engine. The worker pool bounds the
// per-patient fan-out of RequestsByDoctor and is shared with the rest
// of the process. notifier may be nil.
func New(client ledger.Client, roster Roster, pool *workerpool.WorkerPool, auditLog *audit.Logger, notifier Notifier) *Engine {
	return &Engine{
		ledger:   client,
		roster:   roster,
		pool:     pool,
		audit:    auditLog,
		notifier: notifier,
		now:      time.Now,
	}
}

// Request creates a pending access request from a doctor to a patient.
// Re-requesting while already pending is tolerated; the ledger owns
// deduplication.
func (e *Engine) Request(ctx context.Context, doctor models.Principal, patientAddr string) (models.Receipt, error) {
	if doctor.Role != models.RoleDoctor {
		e.log(doctor, patientAddr, audit.ActionRequestAccess, audit.OutcomeDenied, "non-doctor requester")
		return models.Receipt{}, models.ErrForbiddenRole
	}

	receipt, err := e.ledger.RequestAccess(ctx, patientAddr, doctor.Address)
	if err != nil {
		e.log(doctor, patientAddr, audit.ActionRequestAccess, audit.OutcomeError, err.Error())
		return models.Receipt{}, err
	}

	e.log(doctor, patientAddr, audit.ActionRequestAccess, audit.OutcomeSuccess, receipt.TxHash)
	e.notify(Event{
		Type:    EventRequested,
		Patient: patientAddr,
		Doctor:  doctor.Address,
		At:      receipt.SubmittedAt,
		TxHash:  receipt.TxHash,
	})
	return receipt, nil
}

// Approve asserts access for a doctor, stamped with the current time.
// No prior pending request is required.
func (e *Engine) Approve(ctx context.Context, patient models.Principal, doctorAddr string) (models.Receipt, error) {
	return e.transition(ctx, patient, doctorAddr, true)
}

// Revoke withdraws a doctor's access, stamped with the current time
func (e *Engine) Revoke(ctx context.Context, patient models.Principal, doctorAddr string) (models.Receipt, error) {
	return e.transition(ctx, patient, doctorAddr, false)
}

func (e *Engine) transition(ctx context.Context, patient models.Principal, doctorAddr string, grant bool) (models.Receipt, error) {
	action, eventType := audit.ActionRevokeAccess, EventRevoked
	if grant {
		action, eventType = audit.ActionGrantAccess, EventGranted
	}

	if patient.Role != models.RolePatient {
		e.log(patient, patient.Address, action, audit.OutcomeDenied, "non-patient caller")
		return models.Receipt{}, models.ErrForbiddenRole
	}

	at := e.now().UTC()
	var (
		receipt models.Receipt
		err     error
	)
	if grant {
		receipt, err = e.ledger.GrantAccess(ctx, patient.Address, doctorAddr, at)
	} else {
		receipt, err = e.ledger.RevokeAccess(ctx, patient.Address, doctorAddr, at)
	}
	if err != nil {
		e.log(patient, patient.Address, action, audit.OutcomeError, err.Error())
		return models.Receipt{}, err
	}

	e.log(patient, patient.Address, action, audit.OutcomeSuccess, receipt.TxHash)
	e.notify(Event{
		Type:    eventType,
		Patient: patient.Address,
		Doctor:  doctorAddr,
		At:      at,
		TxHash:  receipt.TxHash,
	})
	return receipt, nil
}

// EffectiveAccess is the ledger's current answer to "can this doctor
// read this patient's data". It is ground truth over any request
// bookkeeping.
func (e *Engine) EffectiveAccess(ctx context.Context, patientAddr, doctorAddr string) (bool, error) {
	return e.ledger.HasAccess(ctx, patientAddr, doctorAddr)
}

// RequestsForPatient returns the patient's outstanding access requests
func (e *Engine) RequestsForPatient(ctx context.Context, patient models.Principal) ([]models.AccessRequest, error) {
	if patient.Role != models.RolePatient {
		return nil, models.ErrForbiddenRole
	}
	return e.ledger.ListAccessRequests(ctx, patient.Address)
}

// ResolvedRequestsForPatient returns the patient's approved and
// revoked requests.
func (e *Engine) ResolvedRequestsForPatient(ctx context.Context, patient models.Principal) ([]models.AccessRequest, error) {
	if patient.Role != models.RolePatient {
		return nil, models.ErrForbiddenRole
	}
	return e.ledger.ListResolvedRequests(ctx, patient.Address)
}

// RequestsByDoctor collects the doctor's requests across every known
// patient and labels each with the current effective-access answer.
// The per-patient ledger reads fan out on the worker pool; result
// order follows the patient roster, so output is deterministic for a
// fixed roster.
func (e *Engine) RequestsByDoctor(ctx context.Context, doctor models.Principal) ([]DoctorRequest, error) {
	if doctor.Role != models.RoleDoctor {
		return nil, models.ErrForbiddenRole
	}

	patients, err := e.roster.ListAddressesByRole(ctx, models.RolePatient)
	if err != nil {
		return nil, err
	}
	if len(patients) == 0 {
		return []DoctorRequest{}, nil
	}

	results := make([][]DoctorRequest, len(patients))
	errs := make([]error, len(patients))

	var wg sync.WaitGroup
	for i, patientAddr := range patients {
		i, patientAddr := i, patientAddr
		wg.Add(1)
		task := func() error {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return err
			}
			results[i], errs[i] = e.collectForPatient(ctx, doctor.Address, patientAddr)
			return errs[i]
		}
		if err := e.pool.Submit(task); err != nil {
			// Pool shut down: do the work inline rather than dropping
			// the patient from the view.
			task()
		}
	}
	wg.Wait()

	out := make([]DoctorRequest, 0)
	for i := range patients {
		if errs[i] != nil {
			return nil, errs[i]
		}
		out = append(out, results[i]...)
	}
	return out, nil
}

// collectForPatient fetches one patient's request list, keeps the
// entries addressed to this doctor and labels them.
func (e *Engine) collectForPatient(ctx context.Context, doctorAddr, patientAddr string) ([]DoctorRequest, error) {
	requests, err := e.ledger.ListAccessRequests(ctx, patientAddr)
	if err != nil {
		return nil, err
	}

	var matched []models.AccessRequest
	for _, req := range requests {
		if strings.EqualFold(req.Doctor, doctorAddr) {
			matched = append(matched, req)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	// One access check covers every matched request for this pair
	allowed, err := e.ledger.HasAccess(ctx, patientAddr, doctorAddr)
	if err != nil {
		return nil, err
	}
	label := LabelNoAccess
	if allowed {
		label = LabelHasAccess
	}

	out := make([]DoctorRequest, 0, len(matched))
	for _, req := range matched {
		out = append(out, DoctorRequest{Request: req, AccessLabel: label})
	}
	return out, nil
}

func (e *Engine) notify(event Event) {
	if e.notifier != nil {
		e.notifier.NotifyConsent(event)
	}
}

func (e *Engine) log(actor models.Principal, patient, action, outcome, detail string) {
	if e.audit == nil {
		return
	}
	e.audit.Record(audit.Event{
		Actor:   actor.Address,
		Role:    string(actor.Role),
		Patient: patient,
		Action:  action,
		Outcome: outcome,
		Detail:  detail,
	})
}
