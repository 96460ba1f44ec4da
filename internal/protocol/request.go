package protocol

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Argument is one request argument.
type Argument struct {
	ID    ArgumentID
	Index uint32
	Value string
}

// Request asks the server to run a generation or to shut down.
type Request struct {
	ProtocolVersion   uint32
	CompatibilityHash string
	Arguments         []Argument
}

// NewGenerationRequest builds a request for a generation run. keepAlive is
// sent verbatim when non-empty.
func NewGenerationRequest(workDir, tempDir, hash string, args []string, keepAlive string) *Request {
	out := make([]Argument, 0, len(args)+3)
	out = append(out,
		Argument{ID: ArgCurrentDirectory, Value: workDir},
		Argument{ID: ArgTempDirectory, Value: tempDir},
	)
	if keepAlive != "" {
		out = append(out, Argument{ID: ArgKeepAlive, Value: keepAlive})
	}
	for i, a := range args {
		out = append(out, Argument{ID: ArgCommandLineArgument, Index: uint32(i), Value: a})
	}
	return &Request{ProtocolVersion: ProtocolVersion, CompatibilityHash: hash, Arguments: out}
}

// NewShutdownRequest builds the sentinel request that stops a server.
func NewShutdownRequest(hash string) *Request {
	return &Request{
		ProtocolVersion:   ProtocolVersion,
		CompatibilityHash: hash,
		Arguments:         []Argument{{ID: ArgShutdown}},
	}
}

// IsShutdown reports whether the request is the single-argument shutdown sentinel.
func (r *Request) IsShutdown() bool {
	return len(r.Arguments) == 1 && r.Arguments[0].ID == ArgShutdown
}

// HashMatches compares the compatibility hash case-insensitively.
func (r *Request) HashMatches(hash string) bool {
	return strings.EqualFold(r.CompatibilityHash, hash)
}

func (r *Request) value(id ArgumentID) (string, bool) {
	for _, a := range r.Arguments {
		if a.ID == id {
			return a.Value, true
		}
	}
	return "", false
}

// CurrentDirectory returns the client's working directory argument.
func (r *Request) CurrentDirectory() string {
	v, _ := r.value(ArgCurrentDirectory)
	return v
}

// TempDirectory returns the client's temp directory argument.
func (r *Request) TempDirectory() string {
	v, _ := r.value(ArgTempDirectory)
	return v
}

// KeepAlive returns the requested idle timeout in whole seconds. Missing,
// non-numeric and negative values are ignored.
func (r *Request) KeepAlive() (time.Duration, bool) {
	v, ok := r.value(ArgKeepAlive)
	if !ok {
		return 0, false
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// CommandLineArguments returns the positional arguments placed by index.
// Gaps are filled with empty strings.
func (r *Request) CommandLineArguments() []string {
	n := 0
	for _, a := range r.Arguments {
		if a.ID == ArgCommandLineArgument && int(a.Index)+1 > n {
			n = int(a.Index) + 1
		}
	}
	if n > MaxArguments {
		n = MaxArguments
	}
	out := make([]string, n)
	for _, a := range r.Arguments {
		if a.ID == ArgCommandLineArgument && int(a.Index) < n {
			out[a.Index] = a.Value
		}
	}
	return out
}

// Encode returns the framed request. It fails without producing bytes when
// the argument count or body size is out of bounds.
func (r *Request) Encode() ([]byte, error) {
	if len(r.Arguments) > MaxArguments {
		return nil, fmt.Errorf("%w: %d", ErrTooManyArguments, len(r.Arguments))
	}
	var e encoder
	e.u32(r.ProtocolVersion)
	e.str(r.CompatibilityHash)
	e.u32(uint32(len(r.Arguments)))
	for _, a := range r.Arguments {
		e.u32(uint32(a.ID))
		e.u32(a.Index)
		e.str(a.Value)
	}
	return e.frame()
}

// WriteTo writes the framed request in a single call.
func (r *Request) WriteTo(w io.Writer) (int64, error) {
	b, err := r.Encode()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// ReadRequest reads one framed request. A declared length above
// MaxMessageSize is rejected before the body is read. When the version does
// not match ProtocolVersion the remaining body is left unparsed and the
// returned request carries only the version.
func ReadRequest(r io.Reader) (*Request, error) {
	body, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	d := decoder{body: body}
	req := &Request{ProtocolVersion: d.u32()}
	if d.err != nil {
		return nil, d.err
	}
	if req.ProtocolVersion != ProtocolVersion {
		return req, nil
	}
	req.CompatibilityHash = d.str()
	count := d.u32()
	if d.err != nil {
		return nil, d.err
	}
	if count > MaxArguments {
		return nil, fmt.Errorf("%w: %d", ErrTooManyArguments, count)
	}
	// Each argument needs at least 12 bytes.
	if uint64(count)*12 > uint64(len(body)-d.off) {
		return nil, fmt.Errorf("%w: %d arguments exceed remaining body", ErrMalformed, count)
	}
	req.Arguments = make([]Argument, 0, count)
	for range count {
		a := Argument{ID: ArgumentID(d.u32()), Index: d.u32(), Value: d.str()}
		if d.err != nil {
			return nil, d.err
		}
		req.Arguments = append(req.Arguments, a)
	}
	return req, nil
}
