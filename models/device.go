package models

import (
	"strconv"
	"time"
)

type ScopeKind string

const (
	ScopeStore  ScopeKind = "store"
	ScopeDevice ScopeKind = "device"
)

// Scope is what a playlist is resolved against. The zero value is the unset
// scope and never reaches the backend.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

func (s Scope) IsSet() bool {
	return s.Kind != "" && s.ID != ""
}

func (s Scope) String() string {
	if !s.IsSet() {
		return "unset"
	}
	return string(s.Kind) + ":" + s.ID
}

func StoreScope(id int64) Scope {
	return Scope{Kind: ScopeStore, ID: strconv.FormatInt(id, 10)}
}

func DeviceScope(id string) Scope {
	if id == "" {
		return Scope{}
	}
	return Scope{Kind: ScopeDevice, ID: id}
}

// StoreRef is a grouping key a device can be attached to.
type StoreRef struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

type PairingState string

const (
	Unpaired          PairingState = "unpaired"
	PairingInProgress PairingState = "pairing"
	Paired            PairingState = "paired"
)

type Device struct {
	ID           string       `json:"id"`
	Name         string       `json:"name,omitempty"`
	PairingState PairingState `json:"pairing_state"`
	PairingCode  string       `json:"pairing_code,omitempty"`
}

type ClaimStatus string

const (
	ClaimPending ClaimStatus = "pending"
	ClaimClaimed ClaimStatus = "claimed"
	ClaimUnknown ClaimStatus = "unknown"
)

type PairingAttempt struct {
	Code     string      `json:"code"`
	DeviceID string      `json:"device_id"`
	Status   ClaimStatus `json:"status"`
	OwnerID  string      `json:"owner_id,omitempty"`
}

type HeartbeatRecord struct {
	DeviceID string    `json:"device_id"`
	SentAt   time.Time `json:"last_seen"`
}
