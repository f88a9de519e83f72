package transcribe

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

// Frame type tags for the length-prefixed streaming protocol. The
// framing is narrow enough that explicit byte layout beats pulling in
// a codec dependency.
const (
	frameTranscribe byte = 0x01 // client -> server: {"language": "en"}
	frameAudioStart byte = 0x02 // client -> server: {"sample_rate":16000,"bits_per_sample":16,"channels":1}
	frameAudioChunk byte = 0x03 // client -> server: raw PCM bytes, bounded size
	frameAudioStop  byte = 0x04 // client -> server: empty payload
	frameEvent      byte = 0x05 // server -> client: {"type":"transcript"|"error"|"partial", ...}
)

// chunkSize bounds each audio_chunk frame's payload.
const chunkSize = 8192

// Result is the outcome of a transcription request.
type Result struct {
	Text    string
	Warning string
}

// event is the JSON payload of a frameEvent message from the transcoder.
type event struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// Client opens a fresh TCP connection per transcription request. The
// transcoder is a stateless streaming endpoint, not a persistent
// session.
type Client struct {
	addr         string
	dialTimeout  time.Duration
	readDeadline time.Duration
}

// New creates a transcription bridge client against addr (host:port).
func New(addr string, dialTimeout, readDeadline time.Duration) *Client {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	if readDeadline <= 0 {
		readDeadline = 10 * time.Second
	}
	return &Client{addr: addr, dialTimeout: dialTimeout, readDeadline: readDeadline}
}

// Transcribe sends the preamble/audio_start/chunks/audio_stop sequence
// and waits for a transcript event. On empty transcript text it returns
// success with an empty Text and a Warning; it never synthesizes a
// fake transcript.
func (c *Client) Transcribe(ctx context.Context, language string, params PCMParams, pcm []byte) (Result, error) {
	if c.addr == "" {
		return Result{}, toolapi.NewToolError(toolapi.KindEffectorUnavailable, "transcribe_audio", "transcription service is not configured")
	}
	if err := params.Validate(); err != nil {
		return Result{}, toolapi.NewToolError(toolapi.KindInvalidArguments, "transcribe_audio", err.Error())
	}

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return Result{}, toolapi.NewToolError(toolapi.KindEffectorUnavailable, "transcribe_audio", err.Error())
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := c.send(conn, language, params, pcm); err != nil {
		return Result{}, toolapi.NewToolError(toolapi.KindEffectorUnavailable, "transcribe_audio", err.Error())
	}

	return c.readUntilTranscript(conn)
}

func (c *Client) send(conn net.Conn, language string, params PCMParams, pcm []byte) error {
	preamble, _ := json.Marshal(map[string]string{"language": language})
	if err := writeFrame(conn, frameTranscribe, preamble); err != nil {
		return fmt.Errorf("send preamble: %w", err)
	}

	audioStart, _ := json.Marshal(map[string]any{
		"sample_rate":     params.SampleRate,
		"bits_per_sample": params.BitsPerSample,
		"channels":        params.Channels,
	})
	if err := writeFrame(conn, frameAudioStart, audioStart); err != nil {
		return fmt.Errorf("send audio_start: %w", err)
	}

	for offset := 0; offset < len(pcm); offset += chunkSize {
		end := offset + chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := writeFrame(conn, frameAudioChunk, pcm[offset:end]); err != nil {
			return fmt.Errorf("send audio_chunk: %w", err)
		}
	}

	if err := writeFrame(conn, frameAudioStop, nil); err != nil {
		return fmt.Errorf("send audio_stop: %w", err)
	}
	return nil
}

func (c *Client) readUntilTranscript(conn net.Conn) (Result, error) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.readDeadline)); err != nil {
			return Result{}, toolapi.NewToolError(toolapi.KindEffectorUnavailable, "transcribe_audio", err.Error())
		}

		frameType, payload, err := readFrame(conn)
		if err != nil {
			if isTimeout(err) {
				return Result{}, toolapi.NewToolError(toolapi.KindEffectorTimeout, "transcribe_audio", "transcoder read stalled")
			}
			if errors.Is(err, io.EOF) {
				return Result{}, toolapi.NewToolError(toolapi.KindEffectorFailed, "transcribe_audio", "transcoder closed connection before a transcript event")
			}
			return Result{}, toolapi.NewToolError(toolapi.KindEffectorFailed, "transcribe_audio", err.Error())
		}
		if frameType != frameEvent {
			continue
		}

		var ev event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return Result{}, toolapi.NewToolError(toolapi.KindEffectorFailed, "transcribe_audio", "malformed transcoder event: "+err.Error())
		}

		switch ev.Type {
		case "transcript":
			if ev.Text == "" {
				return Result{Warning: "transcoder returned an empty transcript"}, nil
			}
			return Result{Text: ev.Text}, nil
		case "error":
			return Result{}, toolapi.NewToolError(toolapi.KindEffectorFailed, "transcribe_audio", ev.Message)
		default:
			// partial/progress events: keep reading for the final transcript.
			continue
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

func writeFrame(w io.Writer, frameType byte, payload []byte) error {
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)+1))
	header[4] = frameType
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (byte, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(header[0:4])
	frameType := header[4]
	if length == 0 {
		return 0, nil, fmt.Errorf("transcribe: frame length must include the type byte")
	}
	payload := make([]byte, length-1)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return frameType, payload, nil
}
