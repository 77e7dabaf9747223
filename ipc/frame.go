// Package ipc implements the length-prefixed msgpack framing used to talk
// to an out-of-process pipeline stage (source/external): one frame carries
// the input buffer's flattened records plus run metadata on the
// subprocess's stdin, and one or more frames carry emitted buffers back on
// stdout.
package ipc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if this error should terminate the stage call:
// partial reads and oversized frames leave the stream unrecoverable.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if err is a fatal FrameError.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// FrameDecoder decodes length-prefixed frames from a stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder creates a new frame decoder, wrapping r with bufio.Reader
// to cut syscall overhead on unbuffered sources (OS pipes from subprocesses).
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &FrameDecoder{reader: br}
}

// ReadFrame reads a single frame from the stream and returns its raw
// msgpack-encoded payload.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError Kind=FrameErrorPartial: incomplete frame (fatal)
//   - *FrameError Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read payload", Err: err}
	}
	return payload, nil
}

// EncodeFrame prefixes payload with its 4-byte big-endian length.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

// StageRecord is one flattened tuple exchanged with an external stage: a
// field-name to scalar-value mapping, msgpack-friendly and independent of
// the in-process types.Record/Schema representation.
type StageRecord map[string]any

// StageInput is the one frame written to an external stage subprocess's
// stdin: the run's identity plus every record in the input buffer.
type StageInput struct {
	QueryID    string        `msgpack:"query_id"`
	PipelineID uint64        `msgpack:"pipeline_id"`
	OriginID   uint64        `msgpack:"origin_id"`
	Watermark  int64         `msgpack:"watermark"`
	Records    []StageRecord `msgpack:"records"`
}

// StageOutput is one frame read from an external stage subprocess's
// stdout: a batch of emitted records, possibly marking end of stream, or
// an error string if the stage failed.
type StageOutput struct {
	Records     []StageRecord `msgpack:"records"`
	EndOfStream bool          `msgpack:"end_of_stream"`
	Error       string        `msgpack:"error,omitempty"`
}

// EncodeStageInput encodes in as a length-prefixed msgpack frame.
func EncodeStageInput(in StageInput) ([]byte, error) {
	payload, err := msgpack.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("ipc: encode stage input: %w", err)
	}
	return EncodeFrame(payload), nil
}

// DecodeStageInput decodes a stage input frame's payload.
func DecodeStageInput(payload []byte) (StageInput, error) {
	var in StageInput
	if err := msgpack.Unmarshal(payload, &in); err != nil {
		return StageInput{}, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode stage input", Err: err}
	}
	return in, nil
}

// EncodeStageOutput encodes out as a length-prefixed msgpack frame.
func EncodeStageOutput(out StageOutput) ([]byte, error) {
	payload, err := msgpack.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("ipc: encode stage output: %w", err)
	}
	return EncodeFrame(payload), nil
}

// DecodeStageOutput decodes a stage output frame's payload.
func DecodeStageOutput(payload []byte) (StageOutput, error) {
	var out StageOutput
	if err := msgpack.Unmarshal(payload, &out); err != nil {
		return StageOutput{}, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode stage output", Err: err}
	}
	return out, nil
}
