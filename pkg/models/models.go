package models

import (
	"time"
)

// Role identifies what kind of principal an account is
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Valid reports whether the role is one of the known roles
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// Principal is an authenticated identity resolved to its ledger address.
// The address is the sole authorization key on the ledger and never
// changes once assigned.
type Principal struct {
	ID          string `json:"id"`
	Address     string `json:"address"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
}

// HealthRecord is one immutable health snapshot as stored on the ledger.
// Records are append-only; each submission creates a new entry and prior
// entries are never edited or deleted.
type HealthRecord struct {
	Owner      string    `json:"owner"`
	Name       string    `json:"name"`
	Age        int       `json:"age"`
	Height     int       `json:"height"`
	Weight     int       `json:"weight"`
	Systolic   int       `json:"systolic"`
	Diastolic  int       `json:"diastolic"`
	BloodSugar int       `json:"blood_sugar"`
	Symptoms   string    `json:"symptoms"`
	Diet       string    `json:"diet"`
	Timestamp  time.Time `json:"timestamp"`
}

// RequestStatus is the lifecycle state of an access request
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRevoked  RequestStatus = "revoked"
)

// AccessRequest is a doctor's request to read a patient's records.
// Created by the doctor, resolved only by the owning patient, and kept
// on the ledger for audit after resolution.
type AccessRequest struct {
	Doctor    string        `json:"doctor"`
	Patient   string        `json:"patient"`
	Status    RequestStatus `json:"status"`
	GrantedAt *time.Time    `json:"granted_at,omitempty"`
	RevokedAt *time.Time    `json:"revoked_at,omitempty"`
}

// Receipt acknowledges that a transaction was accepted for submission.
// It does not guarantee inclusion or finality.
type Receipt struct {
	TxHash      string    `json:"tx_hash"`
	SubmittedAt time.Time `json:"submitted_at"`
}
