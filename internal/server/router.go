package server

import (
	"log"

	"github.com/go-zeromq/zmq4"

	"github.com/jensanjo/kvz/internal/protocol"
)

// SplitEnvelope separates the ZeroMQ routing envelope from the request
// body. The envelope is every frame up to and including the first empty
// delimiter frame; REQ clients always send one. A peer that sends no
// delimiter gets just its identity frame treated as the envelope.
func SplitEnvelope(frames [][]byte) (envelope, body [][]byte) {
	for i, frame := range frames {
		if len(frame) == 0 {
			return frames[:i+1], frames[i+1:]
		}
	}
	if len(frames) == 0 {
		return nil, nil
	}
	return frames[:1], frames[1:]
}

// recvLoop pulls messages off the ROUTER socket and queues them for the
// workers. When the queue is full the loop blocks here instead of
// reading more, so overload backs up into ZeroMQ rather than memory.
func (s *Server) recvLoop() {
	for {
		msg, err := s.sock.Recv()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.Printf("recv: %v", err)
			continue
		}

		envelope, body := SplitEnvelope(msg.Frames)
		if len(envelope) == 0 {
			// No identity frame means no way to route a reply
			continue
		}

		req, err := protocol.DecodeRequest(body)

		select {
		case s.requests <- pendingRequest{envelope: envelope, req: req, err: err}:
		case <-s.ctx.Done():
			return
		}
	}
}

// sendLoop serializes all socket writes. zmq4 sockets want a single
// writer, and funneling every reply through one goroutine provides that
// without a lock around Send.
func (s *Server) sendLoop() {
	for rep := range s.replies {
		frames := make([][]byte, 0, len(rep.envelope)+len(rep.frames))
		frames = append(frames, rep.envelope...)
		frames = append(frames, rep.frames...)

		if err := s.sock.Send(zmq4.NewMsgFrom(frames...)); err != nil {
			if s.ctx.Err() != nil {
				continue // Draining during shutdown, the peer is gone
			}
			log.Printf("send: %v", err)
		}
	}
}
