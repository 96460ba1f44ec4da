package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseRoundTrip_AllTypes(t *testing.T) {
	cases := []Response{
		CompletedResponse{ReturnCode: 3, UTF8Output: true, Output: "/out/a.g.go;/out/b.g.go"},
		ShutdownResponse{ServerPID: 4242},
		RejectedResponse{},
		MismatchedVersionResponse{},
		IncorrectHashResponse{},
	}
	for _, resp := range cases {
		t.Run(resp.Type().String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteResponse(&buf, resp))
			got, err := ReadResponse(&buf)
			require.NoError(t, err)
			assert.Equal(t, resp, got)
		})
	}
}

func TestResponseLengthCoversTypeAndBody(t *testing.T) {
	b, err := EncodeResponse(ShutdownResponse{ServerPID: 7})
	require.NoError(t, err)
	require.Len(t, b, 12)
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(b))
	assert.Equal(t, uint32(ResponseShutdown), binary.LittleEndian.Uint32(b[4:]))
}

func frameWithTag(tag uint32) []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, uint32(4))
	_ = binary.Write(&b, binary.LittleEndian, tag)
	return b.Bytes()
}

func TestReadResponse_UnknownAndReservedTags(t *testing.T) {
	for _, tag := range []uint32{uint32(ResponseAnalyzerInconsistency), 6, 0xdeadbeef} {
		_, err := ReadResponse(bytes.NewReader(frameWithTag(tag)))
		require.ErrorIs(t, err, ErrUnknownResponseType, "tag %d", tag)
	}
}

func TestCompletedResponseSizeBoundary(t *testing.T) {
	// type(4) + rc(4) + flag(1) + out prefix(4) + err prefix(4) = 17; keep the body even.
	chars := (MaxMessageSize - 17) / 2
	resp := CompletedResponse{Output: strings.Repeat("p", chars)}
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, resp))
	got, err := ReadResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, resp, got)

	resp.Output = strings.Repeat("p", chars+1)
	buf.Reset()
	require.ErrorIs(t, WriteResponse(&buf, resp), ErrMessageTooLarge)
	assert.Zero(t, buf.Len())
}

func TestCompletedResponseRoundTrip_Property(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("completed responses survive the wire", prop.ForAll(
		func(rc int32, utf8 bool, out string) bool {
			resp := CompletedResponse{ReturnCode: rc, UTF8Output: utf8, Output: out}
			var buf bytes.Buffer
			if err := WriteResponse(&buf, resp); err != nil {
				return false
			}
			got, err := ReadResponse(&buf)
			return err == nil && got == resp
		},
		gen.Int32(),
		gen.Bool(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
