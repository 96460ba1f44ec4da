package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	subject    string
	data       []byte
	flushed    bool
	closed     bool
	publishErr error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.subject = subject
	f.data = data
	return nil
}

func (f *fakeConn) FlushTimeout(time.Duration) error {
	f.flushed = true
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

func TestPublish(t *testing.T) {
	c := &fakeConn{}
	p := newPublisher(c, "", nil)
	require.NoError(t, p.Publish(context.Background(), Event{
		Type:    TypeCompleted,
		RunID:   "run-1",
		Project: "/p/app.yaml",
		Status:  "succeeded",
		Paths:   []string{"/out/GenA/X.g.go"},
	}))
	assert.Equal(t, DefaultSubject, c.subject)
	assert.True(t, c.flushed)

	var got map[string]any
	require.NoError(t, json.Unmarshal(c.data, &got))
	assert.Equal(t, "generation.completed", got["type"])
	assert.Equal(t, "run-1", got["run_id"])
	assert.NotEmpty(t, got["timestamp"])
	assert.NotContains(t, got, "error")

	p.Close()
	assert.True(t, c.closed)
}

func TestPublish_Error(t *testing.T) {
	p := newPublisher(&fakeConn{publishErr: errors.New("down")}, "custom", nil)
	err := p.Publish(context.Background(), Event{Type: TypeFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
}

func TestNilPublisher(t *testing.T) {
	var p *Publisher
	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeCompleted}))
	p.Close()
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", "s", nil)
	require.Error(t, err)
}
