package server

import (
	"sync/atomic"

	"github.com/jensanjo/kvz/internal/protocol"
)

// workerLoop consumes pending requests until the request channel closes.
// Each iteration produces exactly one reply, including for requests that
// arrived with a decode error attached.
func (s *Server) workerLoop() {
	for pending := range s.requests {
		var frames [][]byte
		switch {
		case pending.err != nil:
			atomic.AddUint64(&s.stats.Errors, 1)
			frames = protocol.EncodeError(pending.err.Error())
		case pending.req.Op == protocol.OpPut:
			atomic.AddUint64(&s.stats.Puts, 1)
			frames = Execute(s.store, pending.req)
		default:
			atomic.AddUint64(&s.stats.Gets, 1)
			frames = Execute(s.store, pending.req)
		}

		select {
		case s.replies <- reply{envelope: pending.envelope, frames: frames}:
		case <-s.ctx.Done():
			return
		}
	}
}
