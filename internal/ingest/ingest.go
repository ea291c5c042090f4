package ingest

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"time"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultReadTimeout    = 30 * time.Second
	defaultSilenceTimeout = 300 * time.Second
	defaultMaxReadErrors  = 10

	dialTimeout    = 10 * time.Second
	readBufferSize = 4096
	maxLineLength  = 512
)

// LineFunc consumes one complete feed line, stripped of its CR/LF.
type LineFunc func(line string, now time.Time)

// Ingestor owns the feed connection: it frames lines out of the byte stream,
// hands them to the line handler and drives the reconnect state machine.
// Nothing arriving on the feed is ever fatal.
type Ingestor struct {
	source string
	handle LineFunc

	// Tunable for tests; New sets the production values.
	ReconnectDelay time.Duration
	ReadTimeout    time.Duration
	SilenceTimeout time.Duration
	MaxReadErrors  int
}

// New creates an ingestor for a host:port feed source.
func New(source string, handle LineFunc) *Ingestor {
	return &Ingestor{
		source:         source,
		handle:         handle,
		ReconnectDelay: defaultReconnectDelay,
		ReadTimeout:    defaultReadTimeout,
		SilenceTimeout: defaultSilenceTimeout,
		MaxReadErrors:  defaultMaxReadErrors,
	}
}

// Run drives the connect/read/reconnect loop until the context ends.
func (i *Ingestor) Run(ctx context.Context) {
	for ctx.Err() == nil {
		conn, err := i.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("feed: connection to %s failed: %v", i.source, err)
			if !sleepCtx(ctx, i.ReconnectDelay) {
				return
			}
			continue
		}

		log.Printf("feed: connected to %s", i.source)
		i.readLoop(ctx, conn)
		conn.Close()
	}
}

func (i *Ingestor) connect(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", i.source)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			log.Printf("feed: failed to set keepalive for %s: %v", i.source, err)
		}
		if err := tcpConn.SetNoDelay(true); err != nil {
			log.Printf("feed: failed to set no delay for %s: %v", i.source, err)
		}
	}
	return conn, nil
}

// readLoop reads until the connection dies, the silence watchdog fires, the
// error budget is exhausted or the context ends. The partial-line carry does
// not survive a reconnect.
func (i *Ingestor) readLoop(ctx context.Context, conn net.Conn) {
	buf := make([]byte, readBufferSize)
	line := make([]byte, 0, maxLineLength)
	lastData := time.Now()
	readErrors := 0

	for ctx.Err() == nil {
		if err := conn.SetReadDeadline(time.Now().Add(i.ReadTimeout)); err != nil {
			log.Printf("feed: failed to set read deadline for %s: %v", i.source, err)
		}

		n, err := conn.Read(buf)
		if n > 0 {
			lastData = time.Now()
			readErrors = 0
			line = i.frame(buf[:n], line)
		}
		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) {
			log.Printf("feed: connection to %s closed, reconnecting", i.source)
			return
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			// No bytes within the read timeout. A live but silent
			// connection is treated as dead once the silence
			// timeout passes.
			if time.Since(lastData) > i.SilenceTimeout {
				log.Printf("feed: no data from %s for %s, reconnecting", i.source, i.SilenceTimeout)
				return
			}
			continue
		}

		readErrors++
		if readErrors > i.MaxReadErrors {
			log.Printf("feed: %d consecutive read errors from %s, reconnecting (last: %v)", readErrors, i.source, err)
			return
		}
	}
}

// frame splits incoming bytes on CR/LF, invoking the handler for each
// complete line and returning the partial-line carry. Overlong lines are
// truncated at the line length cap.
func (i *Ingestor) frame(data []byte, line []byte) []byte {
	for _, b := range data {
		if b == '\n' || b == '\r' {
			if len(line) > 0 {
				i.handle(string(line), time.Now())
				line = line[:0]
			}
			continue
		}
		if len(line) < maxLineLength-1 {
			line = append(line, b)
		}
	}
	return line
}

// sleepCtx sleeps for d or until the context ends, reporting whether the
// caller should keep running.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
