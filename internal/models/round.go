// Package models defines the ledger records the crank reads and the
// database models for run history.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RoundStatus is the lifecycle state of a round as stored on the ledger.
type RoundStatus int

// The zero value is not a status, so a record missing its status field
// never decodes as Active.
const (
	RoundActive RoundStatus = iota + 1
	RoundPending
	RoundClosed
)

var roundStatusNames = map[RoundStatus]string{
	RoundActive:  "active",
	RoundPending: "pending",
	RoundClosed:  "closed",
}

func (s RoundStatus) String() string {
	if name, ok := roundStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RoundStatus(%d)", int(s))
}

// MarshalJSON writes the ledger enum shape: an object with a single key
// naming the variant, e.g. {"closed":{}}.
func (s RoundStatus) MarshalJSON() ([]byte, error) {
	name, ok := roundStatusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown round status %d", int(s))
	}
	return marshalVariant(name)
}

func (s *RoundStatus) UnmarshalJSON(data []byte) error {
	name, err := unmarshalVariant(data)
	if err != nil {
		return fmt.Errorf("round status: %w", err)
	}
	for status, n := range roundStatusNames {
		if n == name {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("round status: unknown variant %q", name)
}

// Round is one time-boxed competition window. StartTime and EndTime are unix
// seconds.
type Round struct {
	ID        uint64      `json:"epoch_id"`
	StartTime int64       `json:"start_time"`
	EndTime   int64       `json:"end_time"`
	Status    RoundStatus `json:"status"`
	Processed bool        `json:"processed"`
}

func (r Round) Start() time.Time { return time.Unix(r.StartTime, 0).UTC() }
func (r Round) End() time.Time   { return time.Unix(r.EndTime, 0).UTC() }

// Expired reports whether the round's end lies strictly before now. A round
// ending exactly at now is not expired yet.
func (r Round) Expired(now time.Time) bool {
	return r.EndTime < now.Unix()
}

// Valid reports whether s is one of the ledger's round states.
func (s RoundStatus) Valid() bool {
	_, ok := roundStatusNames[s]
	return ok
}

// Resolvable reports whether the crank still has to resolve the round.
func (r Round) Resolvable() bool {
	return r.Status == RoundClosed && !r.Processed
}

func marshalVariant(name string) ([]byte, error) {
	return json.Marshal(map[string]struct{}{name: {}})
}

// unmarshalVariant accepts {"name":{}} and, for convenience, a bare "name"
// string. Anything else is rejected.
func unmarshalVariant(data []byte) (string, error) {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		if name == "" {
			return "", fmt.Errorf("empty variant")
		}
		return name, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", err
	}
	if len(obj) != 1 {
		return "", fmt.Errorf("expected exactly one variant key, got %d", len(obj))
	}
	for k := range obj {
		name = k
	}
	return name, nil
}
