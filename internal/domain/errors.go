package domain

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrParse        = errors.New("parse error")
	ErrPersistence  = errors.New("persistence error")
	ErrDelivery     = errors.New("delivery error")
	ErrConnectivity = errors.New("connectivity error")

	ErrInvalidConfig = errors.New("edgeship: invalid configuration")
)

// ParseError reports a fragment that could not be turned into an event.
// It is never fatal: the fragment is dropped.
type ParseError struct {
	Fragment string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: %s: %q", e.Reason, truncate(e.Fragment, 80))
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// PersistenceError reports a failed outbox operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("outbox %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// DeliveryError reports a backend rejection or an unreachable backend while
// delivering a record. The record stays pending.
type DeliveryError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.Status, e.Body)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

// ConnectivityError reports a failed connectivity probe.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("backend unreachable: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

func (e *ConnectivityError) Is(target error) bool { return target == ErrConnectivity }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
