package ipc

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpuproc/gpucore"
	"github.com/gogpu/gpuproc/script"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	s := NewStreamSender(&buf)
	sent := []script.Msg{
		script.FreeBuffer(gpucore.BufferID(gpucore.ZipID(4, 0, gpucore.BackendSoftware))),
		script.OpResult{Scope: 2, Error: "invalid"},
		script.Exit{},
	}
	for _, m := range sent {
		require.NoError(t, s.Send(m))
	}

	r := NewReader(&buf)
	for _, want := range sent {
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderTruncatedRecord(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewStreamSender(&buf).Send(script.OpResult{Error: "long enough"}))
	data := buf.Bytes()

	_, err := NewReader(bytes.NewReader(data[:len(data)-2])).Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReaderRecordTooLarge(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0x7f})).Next()
	assert.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestStreamSenderWriteError(t *testing.T) {
	err := NewStreamSender(failingWriter{}).Send(script.Exit{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestStreamSenderConcurrent(t *testing.T) {
	var buf bytes.Buffer
	s := NewStreamSender(&buf)

	const goroutines, each = 8, 50
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				_ = s.Send(script.OpResult{Scope: gpucore.ScopeID(g*each + i)})
			}
		}(g)
	}
	wg.Wait()

	seen := make(map[gpucore.ScopeID]bool)
	r := NewReader(&buf)
	for {
		m, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seen[m.(script.OpResult).Scope] = true
	}
	assert.Len(t, seen, goroutines*each)
}

func TestPump(t *testing.T) {
	var buf bytes.Buffer
	s := NewStreamSender(&buf)
	require.NoError(t, s.Send(script.CleanDevice{Pipeline: 3}))
	require.NoError(t, s.Send(script.Exit{}))

	dst := script.NewChanSender(2)
	require.NoError(t, Pump(NewReader(&buf), dst))
	assert.Equal(t, script.CleanDevice{Pipeline: 3}, <-dst)
	assert.Equal(t, script.Exit{}, <-dst)

	// A full destination stops the pump.
	require.NoError(t, s.Send(script.Exit{}))
	err := Pump(NewReader(&buf), script.NewChanSender(0))
	assert.ErrorIs(t, err, script.ErrQueueFull)
}
