// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package tserr implements the client's error taxonomy: a small tagged
// error type plus classification helpers consumed by tablet/rpc and
// tablet/meta to decide whether a failure is retriable, fatal to the
// current call, or fatal to the whole connection.
package tserr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind tags the broad category of an Error.
type Kind int

const (
	KindRpc Kind = iota
	KindIo
	KindSerialization
	KindNegotiation
	KindTimedOut
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindRpc:
		return "Rpc"
	case KindIo:
		return "Io"
	case KindSerialization:
		return "Serialization"
	case KindNegotiation:
		return "Negotiation"
	case KindTimedOut:
		return "TimedOut"
	case KindInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// Code is the server-returned RPC status for Kind == KindRpc.
type Code int

const (
	CodeUnknown Code = iota
	CodeApplication
	CodeInvalidRequest
	CodeNoSuchMethod
	CodeNoSuchService
	CodeRequestStale
	CodeServerTooBusy
	CodeUnavailable
	CodeFatalDeserializing
	CodeFatalInvalidAuthToken
	CodeFatalInvalidRpcHeader
	CodeFatalServerShuttingDown
	CodeFatalUnauthorized
	CodeFatalUnknown
	CodeFatalVersionMismatch
)

// IsFatalToConnection reports whether this code means the whole connection
// must be torn down, not just the call that surfaced it.
func (c Code) IsFatalToConnection() bool {
	switch c {
	case CodeFatalDeserializing, CodeFatalInvalidAuthToken, CodeFatalInvalidRpcHeader,
		CodeFatalServerShuttingDown, CodeFatalUnauthorized, CodeFatalUnknown, CodeFatalVersionMismatch:
		return true
	default:
		return false
	}
}

// IsRetriable reports whether the call itself may be retried (possibly on
// a different replica) after this code.
func (c Code) IsRetriable() bool {
	return c == CodeServerTooBusy
}

// Reason sub-classifies a KindRpc/CodeApplication error into the
// domain-level conditions ReplicaRpc and Scan care about; it has no
// bearing on transport-level retry classification, only on which recovery
// path ReplicaRpc and Scan take.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNotFound
	ReasonIllegalState
	ReasonNotTheLeader
)

// Error is the client's tagged error value. UnsupportedFeatures carries the
// raw server feature-flag list for Kind == KindRpc, when present.
type Error struct {
	Kind                Kind
	Code                Code
	Reason              Reason
	Message             string
	UnsupportedFeatures []string
	Cause               error
}

func (e *Error) Error() string {
	if e.Kind == KindRpc {
		return fmt.Sprintf("%s(%s): %s", e.Kind, rpcCodeName(e.Code), e.Message)
	}
	if e.Message == "" && e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func rpcCodeName(c Code) string {
	names := [...]string{
		"Unknown", "Application", "InvalidRequest", "NoSuchMethod", "NoSuchService",
		"RequestStale", "ServerTooBusy", "Unavailable", "FatalDeserializing",
		"FatalInvalidAuthToken", "FatalInvalidRpcHeader", "FatalServerShuttingDown",
		"FatalUnauthorized", "FatalUnknown", "FatalVersionMismatch",
	}
	if int(c) < 0 || int(c) >= len(names) {
		return "Unknown"
	}
	return names[c]
}

// Rpc builds a KindRpc error.
func Rpc(code Code, message string, unsupported ...string) *Error {
	return &Error{Kind: KindRpc, Code: code, Message: message, UnsupportedFeatures: unsupported}
}

// RpcReason builds a KindRpc/CodeApplication error tagged with a domain
// Reason, e.g. the tablet-gone or not-the-leader conditions §4.3 reacts to.
func RpcReason(reason Reason, message string) *Error {
	return &Error{Kind: KindRpc, Code: CodeApplication, Reason: reason, Message: message}
}

// Serialization builds a KindSerialization error, never retried.
func Serialization(format string, args ...any) *Error {
	return &Error{Kind: KindSerialization, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument builds a KindInvalidArgument error for client-side misuse.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// TimedOut builds a KindTimedOut error.
func TimedOut(message string) *Error {
	return &Error{Kind: KindTimedOut, Message: message}
}

// Negotiation builds a KindNegotiation error.
func Negotiation(format string, args ...any) *Error {
	return &Error{Kind: KindNegotiation, Message: fmt.Sprintf(format, args...)}
}

// Io wraps a transport/OS error as a KindIo error. Every Io error is
// fatal-to-connection but retriable at the RPC level, per the coarse
// classification this core mandates (see DESIGN.md for the documented,
// not-yet-implemented finer split between e.g. connection-reset and
// would-block).
func Io(cause error) *Error {
	return &Error{Kind: KindIo, Message: cause.Error(), Cause: pkgerrors.Wrap(cause, "io")}
}

// IsRetriableAtRpcLevel reports whether ReplicaRpc may retry the call
// locally (on the same or another replica) after this error.
func IsRetriableAtRpcLevel(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindIo:
		return true
	case KindRpc:
		return e.Code.IsRetriable()
	default:
		return false
	}
}

// IsFatalToConnection reports whether err means the channel underlying a
// ReplicaRpc attempt must be abandoned.
func IsFatalToConnection(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Kind == KindIo || e.Kind == KindNegotiation {
		return true
	}
	return e.Kind == KindRpc && e.Code.IsFatalToConnection()
}

// IsTabletGone reports whether err indicates the tablet no longer exists on
// the replica that answered (NotFound / IllegalState in spec terms),
// signalling the MetaCache should drop the tablet.
func IsTabletGone(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindRpc && (e.Reason == ReasonNotFound || e.Reason == ReasonIllegalState)
}

// IsNotLeader reports whether err indicates the targeted replica is not
// (or no longer) the tablet leader.
func IsNotLeader(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindRpc && e.Reason == ReasonNotTheLeader
}
