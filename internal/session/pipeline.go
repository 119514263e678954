// Package session implements the per-connection pipeline (§4.4) and the
// Session command dispatch (§4.5) that sits between the wire protocol
// (internal/protocol) and the room state machine (internal/room). Grounded
// on the teacher's handleClient accept/read-loop/control-stream shape
// (client.go, now removed — see DESIGN.md), adapted from one WebTransport
// stream pair to one net.Conn plus the ULEB128 frame codec.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BennettNotFound/dotphira-mp/internal/protocol"
)

// Pipeline owns one accepted TCP connection: an unbounded FIFO send queue
// drained by one sender goroutine, and a receiver goroutine that decodes
// frames and hands them to a dispatch callback (§4.4).
type Pipeline struct {
	conn   net.Conn
	fr     *protocol.FrameReader
	fw     *protocol.FrameWriter
	logger *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     [][]byte
	closed    bool
	closeOnce sync.Once

	lastActivity atomic.Int64 // UnixNano

	dispatch func(protocol.ClientCommand)
	onClose  func(error)
}

// NewPipeline wraps conn. dispatch is invoked synchronously from the
// receiver goroutine for every successfully decoded command; onClose is
// invoked exactly once when the receiver goroutine exits, with the error that
// ended it (nil for a clean io.EOF from the peer; a caller-initiated Close
// surfaces as the read error of the closed connection).
func NewPipeline(conn net.Conn, logger *slog.Logger, dispatch func(protocol.ClientCommand), onClose func(error)) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		conn:     conn,
		fr:       protocol.NewFrameReader(conn),
		fw:       protocol.NewFrameWriter(conn),
		logger:   logger,
		dispatch: dispatch,
		onClose:  onClose,
	}
	p.cond = sync.NewCond(&p.mu)
	p.lastActivity.Store(time.Now().UnixNano())
	return p
}

// ReadVersionByte reads the single leading protocol version byte sent at
// connection start, before any framing applies (§4.3 "Version negotiation").
// It is not echoed and never reappears in later frames.
func (p *Pipeline) ReadVersionByte() (byte, error) {
	return p.fr.ReadByte()
}

// Run starts the sender and receiver goroutines and blocks until the
// receiver goroutine exits (connection closed or a fatal protocol error).
func (p *Pipeline) Run() {
	go p.senderLoop()
	p.receiverLoop()
}

// Enqueue appends payload to the send queue. Silently dropped once the
// pipeline is closed (§4.4 "A send attempt after close is silently
// dropped").
func (p *Pipeline) Enqueue(payload []byte) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, payload)
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *Pipeline) senderLoop() {
	for {
		p.mu.Lock()
		for !p.closed && len(p.queue) == 0 {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		payload := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		if err := p.fw.WriteFrame(payload); err != nil {
			p.logger.Debug("pipeline write failed, closing", "err", err)
			p.Close()
			return
		}
	}
}

func (p *Pipeline) receiverLoop() {
	var closeErr error
	for {
		payload, err := p.fr.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				closeErr = err
			}
			break
		}
		p.lastActivity.Store(time.Now().UnixNano())

		cmd, err := protocol.DecodeClientCommand(protocol.NewReader(bytes.NewReader(payload)))
		if err != nil {
			closeErr = fmt.Errorf("protocol error: %w", err)
			break
		}
		p.dispatch(cmd)
	}
	p.Close()
	if p.onClose != nil {
		p.onClose(closeErr)
	}
}

// LastActivity returns the timestamp of the last successfully received
// frame, used by the 10s heartbeat (§4.5).
func (p *Pipeline) LastActivity() time.Time {
	return time.Unix(0, p.lastActivity.Load())
}

// Close cancels both loops, drops any unsent queued items, and closes the
// socket. Idempotent (§4.4).
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.queue = nil
		p.mu.Unlock()
		p.cond.Broadcast()
		p.conn.Close()
	})
}
