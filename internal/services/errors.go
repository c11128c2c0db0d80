// Package services implements the reply pipeline: webhook event dispatch,
// per-counterpart flow control, conversation context, prompt assembly, and
// the orchestration that turns one inbound message into at most one outbound
// delivery.
//
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers. Translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import "errors"

var (
	// ErrInstanceNotFound indicates that no instance matches the requested
	// id or provider-side name.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceExists is returned when creating an instance whose name is
	// already registered locally.
	ErrInstanceExists = errors.New("instance name already exists")

	// ErrInvalidName is returned when an instance name is empty or malformed.
	ErrInvalidName = errors.New("instance name is invalid")

	// ErrAgentNotFound indicates that the instance has no agent configuration.
	ErrAgentNotFound = errors.New("agent configuration not found")
)
