package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/savegress/careledger/internal/audit"
	"github.com/savegress/careledger/internal/config"
	"github.com/savegress/careledger/internal/consent"
	"github.com/savegress/careledger/internal/database"
	"github.com/savegress/careledger/internal/records"
	"github.com/savegress/careledger/internal/ws"
	"github.com/savegress/careledger/pkg/models"
)

// RecordService is the record surface consumed by the handlers
type RecordService interface {
	SubmitSnapshot(ctx context.Context, patient models.Principal, input records.SnapshotInput) (models.Receipt, error)
	GetCurrent(ctx context.Context, reader models.Principal, owner string) (*models.HealthRecord, error)
	GetHistory(ctx context.Context, reader models.Principal, owner string) ([]models.HealthRecord, error)
	GetPatientData(ctx context.Context, reader models.Principal, owner string) (*records.PatientData, error)
}

// ConsentService is the consent surface consumed by the handlers
type ConsentService interface {
	Request(ctx context.Context, doctor models.Principal, patientAddr string) (models.Receipt, error)
	Approve(ctx context.Context, patient models.Principal, doctorAddr string) (models.Receipt, error)
	Revoke(ctx context.Context, patient models.Principal, doctorAddr string) (models.Receipt, error)
	RequestsForPatient(ctx context.Context, patient models.Principal) ([]models.AccessRequest, error)
	ResolvedRequestsForPatient(ctx context.Context, patient models.Principal) ([]models.AccessRequest, error)
	RequestsByDoctor(ctx context.Context, doctor models.Principal) ([]consent.DoctorRequest, error)
}

// UserStore is the account surface consumed by the auth handlers
type UserStore interface {
	CreateUser(ctx context.Context, email, username, passwordHash, firstName, lastName, role, address string) (*database.User, error)
	GetUserByUsername(ctx context.Context, username string) (*database.User, error)
}

// RosterInvalidator drops the cached patient/doctor roster after a
// registration changes it.
type RosterInvalidator interface {
	InvalidateRoster(ctx context.Context, role models.Role)
}

// Handlers carries the wired services behind the HTTP surface
type Handlers struct {
	cfg      *config.Config
	users    UserStore
	records  RecordService
	consent  ConsentService
	audit    *audit.Logger
	hub      *ws.Hub
	roster   RosterInvalidator
	denylist TokenDenylist
	upgrader websocket.Upgrader
}

// NewHandlers creates the handler set
func NewHandlers(cfg *config.Config, users UserStore, recordSvc RecordService, consentSvc ConsentService, auditLog *audit.Logger, hub *ws.Hub, roster RosterInvalidator, denylist TokenDenylist) *Handlers {
	return &Handlers{
		cfg:      cfg,
		users:    users,
		records:  recordSvc,
		consent:  consentSvc,
		audit:    auditLog,
		hub:      hub,
		roster:   roster,
		denylist: denylist,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HealthCheck reports service liveness
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "careledger",
	})
}

// =============================================================================
// Auth
// =============================================================================

// Register creates an account bound to a ledger address and role
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Username  string `json:"username"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Role      string `json:"role"`
		Address   string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Email == "" || req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Email, username and password are required")
		return
	}
	if len(req.Password) < 8 {
		respondError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}
	role := models.Role(strings.ToLower(req.Role))
	if !role.Valid() {
		respondError(w, http.StatusBadRequest, "Role must be patient or doctor")
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "A valid ledger address is required")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to process password")
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.Email, req.Username, string(hashedPassword),
		req.FirstName, req.LastName, string(role), req.Address)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrDuplicateEmail):
			respondError(w, http.StatusConflict, "Email or username already registered")
		case errors.Is(err, database.ErrDuplicateAddress):
			respondError(w, http.StatusConflict, "Address already registered")
		default:
			respondError(w, http.StatusInternalServerError, "Failed to create user")
		}
		return
	}

	if h.roster != nil {
		h.roster.InvalidateRoster(r.Context(), role)
	}
	if h.audit != nil {
		h.audit.Record(audit.Event{
			Actor:   user.Address,
			Role:    user.Role,
			Action:  audit.ActionRegister,
			Outcome: audit.OutcomeSuccess,
		})
	}

	token, err := generateAccessToken(h.cfg, user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

// Login authenticates a username/password pair
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.users.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		if h.audit != nil {
			h.audit.Record(audit.Event{
				Actor:   user.Address,
				Role:    user.Role,
				Action:  audit.ActionLogin,
				Outcome: audit.OutcomeDenied,
			})
		}
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := generateAccessToken(h.cfg, user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	if h.audit != nil {
		h.audit.Record(audit.Event{
			Actor:   user.Address,
			Role:    user.Role,
			Action:  audit.ActionLogin,
			Outcome: audit.OutcomeSuccess,
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

// Logout invalidates the caller's current token until it expires
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	if h.denylist != nil {
		token := bearerToken(r)
		ttl := time.Duration(h.cfg.JWTExpiration) * time.Hour
		if err := h.denylist.DenyToken(r.Context(), token, ttl); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to revoke token")
			return
		}
	}

	if h.audit != nil {
		h.audit.Record(audit.Event{
			Actor:   principal.Address,
			Role:    string(principal.Role),
			Action:  audit.ActionLogout,
			Outcome: audit.OutcomeSuccess,
		})
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// UserType reports the authenticated principal's role and address
func (h *Handlers) UserType(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	respondJSON(w, http.StatusOK, principal)
}

// =============================================================================
// Records
// =============================================================================

// AddPatientData submits a new health snapshot for the caller
func (h *Handlers) AddPatientData(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var input records.SnapshotInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	receipt, err := h.records.SubmitSnapshot(r.Context(), principal, input)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, receipt)
}

// PatientData returns the caller's current snapshot
func (h *Handlers) PatientData(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	record, err := h.records.GetCurrent(r.Context(), principal, principal.Address)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}

// PatientDataHistory returns the caller's prior snapshots oldest-first
func (h *Handlers) PatientDataHistory(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	history, err := h.records.GetHistory(r.Context(), principal, principal.Address)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// DoctorPatientData returns another patient's combined view to an
// authorized doctor.
func (h *Handlers) DoctorPatientData(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	patientAddr := chi.URLParam(r, "patientAddress")
	if !common.IsHexAddress(patientAddr) {
		respondError(w, http.StatusBadRequest, "A valid patient address is required")
		return
	}

	data, err := h.records.GetPatientData(r.Context(), principal, patientAddr)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, data)
}

// =============================================================================
// Consent
// =============================================================================

// RequestAccess asks for access to a patient's records
func (h *Handlers) RequestAccess(w http.ResponseWriter, r *http.Request) {
	h.consentTransition(w, r, "patient_address", func(ctx context.Context, p models.Principal, addr string) (models.Receipt, error) {
		return h.consent.Request(ctx, p, addr)
	})
}

// ApproveAccess grants a doctor access to the caller's records
func (h *Handlers) ApproveAccess(w http.ResponseWriter, r *http.Request) {
	h.consentTransition(w, r, "doctor_address", func(ctx context.Context, p models.Principal, addr string) (models.Receipt, error) {
		return h.consent.Approve(ctx, p, addr)
	})
}

// RevokeAccess withdraws a doctor's access to the caller's records
func (h *Handlers) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	h.consentTransition(w, r, "doctor_address", func(ctx context.Context, p models.Principal, addr string) (models.Receipt, error) {
		return h.consent.Revoke(ctx, p, addr)
	})
}

func (h *Handlers) consentTransition(w http.ResponseWriter, r *http.Request, field string, fn func(context.Context, models.Principal, string) (models.Receipt, error)) {
	principal, ok := principalFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	addr := body[field]
	if !common.IsHexAddress(addr) {
		respondError(w, http.StatusBadRequest, "A valid "+field+" is required")
		return
	}

	receipt, err := fn(r.Context(), principal, addr)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

// AccessRequests lists the caller's outstanding access requests
func (h *Handlers) AccessRequests(w http.ResponseWriter, r *http.Request) {
	h.listRequests(w, r, h.consent.RequestsForPatient)
}

// PreviousRequests lists the caller's resolved access requests
func (h *Handlers) PreviousRequests(w http.ResponseWriter, r *http.Request) {
	h.listRequests(w, r, h.consent.ResolvedRequestsForPatient)
}

func (h *Handlers) listRequests(w http.ResponseWriter, r *http.Request, fn func(context.Context, models.Principal) ([]models.AccessRequest, error)) {
	principal, ok := principalFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	requests, err := fn(r.Context(), principal)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if requests == nil {
		requests = []models.AccessRequest{}
	}
	respondJSON(w, http.StatusOK, requests)
}

// DoctorRequests lists the caller's requests across all patients,
// labeled with the current access answer.
func (h *Handlers) DoctorRequests(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	out, err := h.consent.RequestsByDoctor(r.Context(), principal)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// =============================================================================
// Audit
// =============================================================================

// AuditEvents lists audit events matching the query filters
func (h *Handlers) AuditEvents(w http.ResponseWriter, r *http.Request) {
	filter := audit.EventFilter{
		Actor:   r.URL.Query().Get("actor"),
		Patient: r.URL.Query().Get("patient"),
		Action:  r.URL.Query().Get("action"),
		Outcome: r.URL.Query().Get("outcome"),
	}
	respondJSON(w, http.StatusOK, h.audit.GetEvents(filter))
}

// AuditStats reports aggregate audit counts
func (h *Handlers) AuditStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.audit.GetStats())
}

// =============================================================================
// Websocket
// =============================================================================

// Websocket upgrades the connection and streams the caller's consent
// events.
func (h *Handlers) Websocket(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	// The request context is cancelled as soon as this handler returns,
	// so the pumps run on a connection-lifetime context instead.
	client := ws.NewClient(h.hub, conn, principal.Address)
	go client.WritePump(context.Background())
	go client.ReadPump(context.Background())
}

// =============================================================================
// Helpers
// =============================================================================

func generateAccessToken(cfg *config.Config, userID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Duration(cfg.JWTExpiration) * time.Hour).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTSecret))
}
