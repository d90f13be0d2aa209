/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package membership

import (
	"errors"
	"fmt"
)

var (
	ErrSchema             = errors.New("invalid distributed config schema")
	ErrInconsistent       = errors.New("inconsistent distributed config")
	ErrMemberNotFound     = errors.New("member not found")
	ErrNoAddress          = errors.New("member has no address")
	ErrIncompleteTopology = errors.New("incomplete group topology")
)

// SchemaError describes a descriptor that decoded fine but does not have the
// required shape. Member is empty for group-level fields.
type SchemaError struct {
	Member string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Member == "" {
		return fmt.Sprintf("%s: %s: %s", ErrSchema.Error(), e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: member %q: %s: %s", ErrSchema.Error(), e.Member, e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

func schemaErrorf(member, field, format string, args ...any) error {
	return &SchemaError{
		Member: member,
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}

// ConsistencyError is returned when the self record disagrees with the
// group config or the member list.
type ConsistencyError struct {
	SelfID string
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: self %q: %s", ErrInconsistent.Error(), e.SelfID, e.Reason)
}

func (e *ConsistencyError) Unwrap() error { return ErrInconsistent }

type MemberNotFoundError struct {
	Key string
}

func (e *MemberNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMemberNotFound.Error(), e.Key)
}

func (e *MemberNotFoundError) Unwrap() error { return ErrMemberNotFound }

type NoAddressError struct {
	MemberID string
	Kind     string
}

func (e *NoAddressError) Error() string {
	return fmt.Sprintf("%s: member %q has no %s ips", ErrNoAddress.Error(), e.MemberID, e.Kind)
}

func (e *NoAddressError) Unwrap() error { return ErrNoAddress }

type TopologyError struct {
	Reason string
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrIncompleteTopology.Error(), e.Reason)
}

func (e *TopologyError) Unwrap() error { return ErrIncompleteTopology }
