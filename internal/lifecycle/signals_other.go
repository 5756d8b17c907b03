// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !unix

package lifecycle

// OSSignals has no job-control signals to observe on this platform.
type OSSignals struct {
	Suspend bool
}

// NewOSSignals creates a signal source. Subscribe always fails here.
func NewOSSignals() *OSSignals {
	return &OSSignals{}
}

// Subscribe implements Source.
func (s *OSSignals) Subscribe(func(Signal)) (func(), error) {
	return nil, ErrUnsupported
}
