package agent

import (
	"io"

	"github.com/guseggert/nativebridge/agent/protocol"
	"go.uber.org/zap"
)

// queueSize bounds how many responses can be waiting for the connection.
const queueSize = 64

// responseWriter is the only writer of a connection during a stream.
// Relay workers hand it responses through a queue, so frames are written whole and in queue order.
type responseWriter struct {
	log *zap.SugaredLogger
	fw  *protocol.FrameWriter

	queue chan protocol.Response
	// failed is closed after the first write error, which is stored in err.
	failed chan struct{}
	done   chan struct{}
	err    error
}

func newResponseWriter(log *zap.SugaredLogger, w io.Writer) *responseWriter {
	rw := &responseWriter{
		log:    log,
		fw:     protocol.NewFrameWriter(w),
		queue:  make(chan protocol.Response, queueSize),
		failed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go rw.run()
	return rw
}

func (w *responseWriter) run() {
	defer close(w.done)
	for resp := range w.queue {
		if w.err != nil {
			continue
		}
		if err := w.fw.WriteResponse(resp); err != nil {
			w.log.Debugf("error writing %s response: %s", resp.Kind, err)
			w.err = err
			close(w.failed)
		}
	}
}

// Send queues resp for writing. It returns the write error once any earlier write has failed,
// so a disconnected client is noticed at the next Send.
func (w *responseWriter) Send(resp protocol.Response) error {
	select {
	case <-w.failed:
		return w.err
	default:
	}
	select {
	case w.queue <- resp:
		return nil
	case <-w.failed:
		return w.err
	}
}

// Failed is closed after the first write error.
func (w *responseWriter) Failed() <-chan struct{} {
	return w.failed
}

// Close flushes the queue and stops the writer. No Send may happen after Close.
func (w *responseWriter) Close() error {
	close(w.queue)
	<-w.done
	return w.err
}
