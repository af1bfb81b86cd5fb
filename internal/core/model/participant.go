package model

import (
	"fmt"

	"github.com/google/uuid"
)

// ParticipantType classifies a ledger participant.
type ParticipantType string

const (
	ParticipantPerson   ParticipantType = "person"
	ParticipantBusiness ParticipantType = "business"
	ParticipantHub      ParticipantType = "hub"
)

// Valid reports whether t is a defined participant type.
func (t ParticipantType) Valid() bool {
	switch t {
	case ParticipantPerson, ParticipantBusiness, ParticipantHub:
		return true
	}
	return false
}

// ParticipantStatus is the lifecycle state of a participant.
type ParticipantStatus string

const (
	ParticipantActive    ParticipantStatus = "active"
	ParticipantSuspended ParticipantStatus = "suspended"
	ParticipantLeft      ParticipantStatus = "left"
	ParticipantDeleted   ParticipantStatus = "deleted"
)

// Valid reports whether s is a defined participant status.
func (s ParticipantStatus) Valid() bool {
	switch s {
	case ParticipantActive, ParticipantSuspended, ParticipantLeft, ParticipantDeleted:
		return true
	}
	return false
}

// ParseParticipantStatus maps a stored string to the closed enum.
func ParseParticipantStatus(s string) (ParticipantStatus, error) {
	ps := ParticipantStatus(s)
	if !ps.Valid() {
		return "", fmt.Errorf("unknown participant status %q", s)
	}
	return ps, nil
}

// Participant is an identity holding trustlines and debts. The PID is a
// printable identifier derived from the public key (see the pid package).
type Participant struct {
	ID          uuid.UUID
	PID         string
	DisplayName string
	PublicKey   []byte
	Type        ParticipantType
	Status      ParticipantStatus
}

// CanTransact reports whether the participant may initiate or receive
// payments. Suspended participants keep their rows but are inert.
func (p *Participant) CanTransact() bool {
	return p.Status == ParticipantActive
}

// Validate checks identity constraints.
func (p *Participant) Validate() error {
	if p.PID == "" {
		return fmt.Errorf("participant pid is required")
	}
	if len(p.PublicKey) == 0 {
		return fmt.Errorf("participant public key is required")
	}
	if !p.Type.Valid() {
		return fmt.Errorf("unknown participant type %q", p.Type)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("unknown participant status %q", p.Status)
	}
	return nil
}
