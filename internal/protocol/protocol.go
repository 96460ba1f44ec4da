// Package protocol implements the binary request/response framing spoken
// between the build client and the persistent generation server.
//
// All integers are little-endian. Strings are a u32 count of UTF-16 code
// units followed by the UTF-16LE encoded units.
package protocol

import (
	"errors"
	"fmt"
)

// ProtocolVersion is the wire version a server accepts.
const ProtocolVersion uint32 = 3

// MaxMessageSize bounds the declared length of a request or response body.
const MaxMessageSize = 0x100000

// MaxArguments bounds the argument count of a request.
const MaxArguments = 65535

// ArgumentID identifies the role of a request argument.
type ArgumentID uint32

const (
	ArgCurrentDirectory ArgumentID = 0x51147221 + iota
	ArgCommandLineArgument
	ArgKeepAlive
	ArgShutdown
	ArgTempDirectory
)

func (id ArgumentID) String() string {
	switch id {
	case ArgCurrentDirectory:
		return "current_directory"
	case ArgCommandLineArgument:
		return "command_line_argument"
	case ArgKeepAlive:
		return "keep_alive"
	case ArgShutdown:
		return "shutdown"
	case ArgTempDirectory:
		return "temp_directory"
	default:
		return fmt.Sprintf("argument(%#x)", uint32(id))
	}
}

// ResponseType is the tag that selects a response body layout.
type ResponseType uint32

const (
	ResponseMismatchedVersion ResponseType = iota
	ResponseCompleted
	// ResponseAnalyzerInconsistency is reserved and never produced.
	ResponseAnalyzerInconsistency
	ResponseShutdown
	ResponseRejected
	ResponseIncorrectHash
)

func (t ResponseType) String() string {
	switch t {
	case ResponseMismatchedVersion:
		return "mismatched_version"
	case ResponseCompleted:
		return "completed"
	case ResponseAnalyzerInconsistency:
		return "analyzer_inconsistency"
	case ResponseShutdown:
		return "shutdown"
	case ResponseRejected:
		return "rejected"
	case ResponseIncorrectHash:
		return "incorrect_hash"
	default:
		return fmt.Sprintf("response(%d)", uint32(t))
	}
}

var (
	// ErrMessageTooLarge is returned when a body exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("protocol: message exceeds 1MB")
	// ErrTooManyArguments is returned when a request carries more than MaxArguments.
	ErrTooManyArguments = errors.New("protocol: too many arguments")
	// ErrUnknownResponseType is returned for reserved or unrecognized response tags.
	ErrUnknownResponseType = errors.New("protocol: unknown response type")
	// ErrMalformed is returned when a body is truncated or inconsistent.
	ErrMalformed = errors.New("protocol: malformed message")
)
