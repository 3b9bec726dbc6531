// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTripOnStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, &Request{Type: RequestPlay, PipelineID: 1, SeqNo: 1}))
	require.NoError(t, WriteResponse(&buf, &Response{Type: ResponsePlay, PipelineID: 1, SeqNo: 1}))

	req, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, RequestPlay, req.Type)

	rsp, err := ReadResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, ResponsePlay, rsp.Type)

	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameRejectsOversize(t *testing.T) {
	err := WriteFrame(io.Discard, make([]byte, MaxFrameSize+1))
	require.ErrorIs(t, err, ErrFrameTooLarge)

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)
	_, err = ReadFrame(bytes.NewReader(hdr[:]))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrameRejectsEmpty(t *testing.T) {
	require.ErrorIs(t, WriteFrame(io.Discard, nil), ErrEmptyFrame)
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}))
	require.ErrorIs(t, err, ErrEmptyFrame)
}

func TestFrameTruncatedPayload(t *testing.T) {
	b := []byte{0, 0, 0, 8, 'a', 'b'}
	_, err := ReadFrame(bytes.NewReader(b))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// countingWriter records how many Write calls a frame needs.
type countingWriter struct {
	calls int
	bytes.Buffer
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.calls++
	return w.Buffer.Write(p)
}

func TestWriteFrameSingleWrite(t *testing.T) {
	w := &countingWriter{}
	require.NoError(t, WriteFrame(w, []byte("hello")))
	assert.Equal(t, 1, w.calls)
	assert.Equal(t, 9, w.Len())
}
