package es

import "errors"

var (
	ErrUnknownEventType     = errors.New("unknown event type")
	ErrUnknownAggregateType = errors.New("unknown aggregate type")
	ErrUnknownDomainType    = errors.New("unknown domain type")
	ErrInvalidEnvelope      = errors.New("invalid envelope")
	ErrInvalidEvent         = errors.New("invalid event")
	ErrVersionConflict      = errors.New("version conflict")
	ErrVersionGap           = errors.New("version gap")
	ErrDomainNotExists      = errors.New("domain does not exist")
	ErrMissingDomainID      = errors.New("missing domain id")
	ErrDomainDetached       = errors.New("domain has no root aggregate")
	ErrNoRepository         = errors.New("entity is not attached to a repository")
	ErrNoEventLog           = errors.New("no event log configured")
)
