package message

import "fmt"

// ExceptionType classifies an ApplicationException.
type ExceptionType int32

const (
	ExceptionUnknown            ExceptionType = 0
	ExceptionUnknownMethod      ExceptionType = 1
	ExceptionInvalidMessageType ExceptionType = 2
	ExceptionWrongMethodName    ExceptionType = 3
	ExceptionBadSequenceID      ExceptionType = 4
	ExceptionMissingResult      ExceptionType = 5
	ExceptionInternalError      ExceptionType = 6
	ExceptionProtocolError      ExceptionType = 7
)

var exceptionNames = map[ExceptionType]string{
	ExceptionUnknown:            "unknown",
	ExceptionUnknownMethod:      "unknown method",
	ExceptionInvalidMessageType: "invalid message type",
	ExceptionWrongMethodName:    "wrong method name",
	ExceptionBadSequenceID:      "bad sequence id",
	ExceptionMissingResult:      "missing result",
	ExceptionInternalError:      "internal error",
	ExceptionProtocolError:      "protocol error",
}

func (t ExceptionType) String() string {
	if name, ok := exceptionNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ExceptionType(%d)", int32(t))
}

// ApplicationException is the body of an EXCEPTION message: a protocol-level
// failure raised by the remote side (unknown method, internal error, ...),
// as opposed to a Failure declared by the service contract.
type ApplicationException struct {
	Type    ExceptionType `json:"type"`
	Message string        `json:"message,omitempty"`
}

func (e *ApplicationException) Error() string {
	if e.Message == "" {
		return "remote exception: " + e.Type.String()
	}
	return fmt.Sprintf("remote exception (%s): %s", e.Type, e.Message)
}
