package es

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the durable form of an Event: identity and ordering fields plus
// the JSON encoded payload.
type Envelope struct {
	// Seq is the global log position assigned on append.
	Seq           uint64          `json:"seq"`
	ParentID      string          `json:"parent_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Version       Version         `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	DomainType    string          `json:"domain_type,omitempty"`
	DomainID      string          `json:"domain_id,omitempty"`
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data"`
}

func (e Envelope) Validate() error {
	if e.AggregateID == "" {
		return fmt.Errorf("%w: aggregate id is empty", ErrInvalidEnvelope)
	}
	if e.Version < 1 {
		return fmt.Errorf("%w: version must be >= 1", ErrInvalidEnvelope)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: type is empty", ErrInvalidEnvelope)
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created at is zero", ErrInvalidEnvelope)
	}
	if (e.DomainType == "") != (e.DomainID == "") {
		return fmt.Errorf("%w: domain type and domain id must be set together", ErrInvalidEnvelope)
	}
	return nil
}
