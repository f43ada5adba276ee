// ABOUTME: Typed signaling errors and wire error codes
// ABOUTME: Kinds are matched with errors.Is against the exported sentinels
package signal

import "fmt"

// Wire error codes sent by the rendezvous
const (
	CodeRoomFull     = "room_full"
	CodeRoomNotFound = "room_not_found"
	CodeBadRequest   = "bad_request"
	CodeNotJoined    = "not_joined"
	CodeUnknownPeer  = "unknown_peer"
)

// ErrorKind classifies a signaling failure
type ErrorKind int

const (
	KindRejected ErrorKind = iota
	KindRoomFull
	KindRoomNotFound
	KindTransportUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindRoomFull:
		return "room full"
	case KindRoomNotFound:
		return "room not found"
	case KindTransportUnavailable:
		return "transport unavailable"
	default:
		return "rejected"
	}
}

// Error is returned by coordinator operations
type Error struct {
	Kind    ErrorKind
	Code    string // wire code, when the rendezvous sent one
	Message string
	Err     error
}

var (
	ErrRoomFull             = &Error{Kind: KindRoomFull}
	ErrRoomNotFound         = &Error{Kind: KindRoomNotFound}
	ErrTransportUnavailable = &Error{Kind: KindTransportUnavailable}
	ErrRejected             = &Error{Kind: KindRejected}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// errorFromPayload maps a wire error to a typed error
func errorFromPayload(p ErrorPayload) *Error {
	kind := KindRejected
	switch p.Code {
	case CodeRoomFull:
		kind = KindRoomFull
	case CodeRoomNotFound:
		kind = KindRoomNotFound
	}
	return &Error{Kind: kind, Code: p.Code, Message: p.Message}
}

func transportError(msg string, err error) *Error {
	return &Error{Kind: KindTransportUnavailable, Message: msg, Err: err}
}
