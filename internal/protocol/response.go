package protocol

import (
	"fmt"
	"io"
)

// Response is one of the server replies. The set is closed.
type Response interface {
	Type() ResponseType
	encodeBody(*encoder)
}

// CompletedResponse carries the outcome of a generation run.
type CompletedResponse struct {
	ReturnCode int32
	UTF8Output bool
	Output     string
}

// ShutdownResponse acknowledges a shutdown request.
type ShutdownResponse struct {
	ServerPID int32
}

// RejectedResponse is sent when the server no longer accepts work.
type RejectedResponse struct{}

// MismatchedVersionResponse is sent when the protocol versions differ.
type MismatchedVersionResponse struct{}

// IncorrectHashResponse is sent when the compatibility hashes differ.
type IncorrectHashResponse struct{}

func (CompletedResponse) Type() ResponseType         { return ResponseCompleted }
func (ShutdownResponse) Type() ResponseType          { return ResponseShutdown }
func (RejectedResponse) Type() ResponseType          { return ResponseRejected }
func (MismatchedVersionResponse) Type() ResponseType { return ResponseMismatchedVersion }
func (IncorrectHashResponse) Type() ResponseType     { return ResponseIncorrectHash }

func (c CompletedResponse) encodeBody(e *encoder) {
	e.i32(c.ReturnCode)
	if c.UTF8Output {
		e.u8(1)
	} else {
		e.u8(0)
	}
	e.str(c.Output)
	// Error output is always empty.
	e.str("")
}

func (s ShutdownResponse) encodeBody(e *encoder) { e.i32(s.ServerPID) }

func (RejectedResponse) encodeBody(*encoder)          {}
func (MismatchedVersionResponse) encodeBody(*encoder) {}
func (IncorrectHashResponse) encodeBody(*encoder)     {}

// EncodeResponse returns the framed response.
func EncodeResponse(resp Response) ([]byte, error) {
	var e encoder
	e.u32(uint32(resp.Type()))
	resp.encodeBody(&e)
	return e.frame()
}

// WriteResponse writes the framed response in a single call.
func WriteResponse(w io.Writer, resp Response) error {
	b, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadResponse reads one framed response. Reserved and unknown tags fail
// with ErrUnknownResponseType.
func ReadResponse(r io.Reader) (Response, error) {
	body, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	d := decoder{body: body}
	tag := ResponseType(d.u32())
	if d.err != nil {
		return nil, d.err
	}
	var resp Response
	switch tag {
	case ResponseCompleted:
		c := CompletedResponse{ReturnCode: d.i32(), UTF8Output: d.u8() != 0, Output: d.str()}
		_ = d.str()
		resp = c
	case ResponseShutdown:
		resp = ShutdownResponse{ServerPID: d.i32()}
	case ResponseRejected:
		resp = RejectedResponse{}
	case ResponseMismatchedVersion:
		resp = MismatchedVersionResponse{}
	case ResponseIncorrectHash:
		resp = IncorrectHashResponse{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownResponseType, tag)
	}
	if d.err != nil {
		return nil, d.err
	}
	return resp, nil
}
