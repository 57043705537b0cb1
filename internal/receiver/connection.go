// Package receiver wires reassemble, dialect, modeengine, media and logx
// into the per-connection serve loop and per-receiver listener driver.
//
// Grounded on internal/hdhomerun/control.go's ControlServer.Serve and
// handleConnection: Serve accepts in a loop and spawns a handler goroutine
// per connection; handleConnection reads a bounded-size frame under a read
// deadline and replies on the same connection. The classify/decide/respond
// body per frame is new, grounded on original_source/core/connection_handler.py.
package receiver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cms-emu/receiver/internal/dialect"
	"github.com/cms-emu/receiver/internal/logx"
	"github.com/cms-emu/receiver/internal/media"
	"github.com/cms-emu/receiver/internal/metrics"
	"github.com/cms-emu/receiver/internal/modeengine"
	"github.com/cms-emu/receiver/internal/reassemble"
)

// DefaultIdleTimeout bounds each blocking Read. Expiry only logs a warning
// and loops again (see Serve); it never closes the connection by itself.
const DefaultIdleTimeout = 5 * time.Second

// Connection serves one accepted panel connection for a single receiver.
type Connection struct {
	conn     net.Conn
	receiver string
	dialect  dialect.Dialect
	engine   *modeengine.Engine
	sink     *media.Sink
	log      *logx.Logger
	metrics  *metrics.Metrics

	// rawNoIndex correlates a Manitou Signal frame's minted RawNo back to
	// the event code a later Binary frame on the same connection belongs
	// to. Only populated when dialect.RawNoCorrelation() is true; a single
	// connection is never shared across goroutines, so no lock is needed.
	rawNoIndex map[string]string
}

// NewConnection builds a Connection ready to Serve conn.
func NewConnection(conn net.Conn, receiverName string, d dialect.Dialect, engine *modeengine.Engine, sink *media.Sink, log *logx.Logger, m *metrics.Metrics) *Connection {
	return &Connection{
		conn:       conn,
		receiver:   receiverName,
		dialect:    d,
		engine:     engine,
		sink:       sink,
		log:        log.WithPeer(conn.RemoteAddr().String()),
		metrics:    m,
		rawNoIndex: make(map[string]string),
	}
}

// Serve runs the connection's read/classify/respond loop until the peer
// disconnects, a read or write fails, the frame buffer overflows, ctx is
// cancelled, or a hard-close NAK ends it early. An idle timeout does not
// end it.
func (c *Connection) Serve(ctx context.Context) {
	defer c.conn.Close()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("connection handler panic", "protocol", c.receiver, "panic", r)
		}
	}()
	c.metrics.Connections.WithLabelValues(c.receiver).Inc()
	defer c.metrics.Connections.WithLabelValues(c.receiver).Dec()

	buf := reassemble.New(0)
	readBuf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(DefaultIdleTimeout))
		n, err := c.conn.Read(readBuf)
		if n > 0 {
			frames, ferr := buf.Feed(readBuf[:n], c.dialect.Scan)
			for _, frame := range frames {
				if !c.handleFrame(ctx, frame) {
					return
				}
			}
			if ferr != nil {
				c.log.Warn("frame buffer overflow, closing connection", "protocol", c.receiver, "error", ferr)
				return
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Idle timeout only logs; it is not one of the hard-close
				// paths (EOF, connection reset, or a hard-close-on-NAK
				// dialect). The panel is expected to stay connected
				// between heartbeats.
				c.log.Warn("connection idle", "protocol", c.receiver)
				continue
			}
			return
		}
	}
}

// handleFrame classifies and responds to one complete frame. It returns
// false when the caller must close the connection immediately afterward.
func (c *Connection) handleFrame(ctx context.Context, frame []byte) bool {
	msg := c.dialect.Classify(frame)
	c.metrics.Frames.WithLabelValues(c.receiver, msg.Kind.String()).Inc()
	c.log.Debug("frame classified", "protocol", c.receiver, "kind", msg.Kind.String(), "code", msg.Code, "frame", logx.RedactFrame(string(frame)))

	if msg.Kind == dialect.KindBinary && c.dialect.RawNoCorrelation() {
		if code, ok := c.rawNoIndex[msg.Media.RawNo]; ok {
			msg.Code = code
		}
	}

	c.saveMedia(ctx, msg)

	var action modeengine.Action
	var delaySeconds int
	if msg.Kind == dialect.KindPing {
		action = c.engine.DecidePing(c.dialect.PingNAKBehavior())
	} else {
		action, delaySeconds = c.engine.Decide()
	}

	if delaySeconds > 0 {
		select {
		case <-time.After(time.Duration(delaySeconds) * time.Second):
		case <-ctx.Done():
			return false
		}
	}

	switch action {
	case modeengine.ActionSilent:
		c.metrics.Drops.WithLabelValues(c.receiver).Inc()
		return true
	case modeengine.ActionACK:
		return c.respond(msg, c.dialect.BuildACK(msg, c.engine.ResponseTimestamp(time.Now())), false)
	case modeengine.ActionNAK:
		code := c.engine.NAKCode(c.dialect.DefaultNAKCode())
		return c.respond(msg, c.dialect.BuildNAK(msg, c.engine.ResponseTimestamp(time.Now()), code), true)
	}
	return true
}

func (c *Connection) respond(msg dialect.Message, resp dialect.Response, isNAK bool) bool {
	if _, err := c.conn.Write(resp.Bytes); err != nil {
		c.log.Warn("write failed", "protocol", c.receiver, "error", err)
		return false
	}
	if isNAK {
		c.metrics.Naks.WithLabelValues(c.receiver).Inc()
	} else {
		c.metrics.Acks.WithLabelValues(c.receiver).Inc()
		if resp.Token != "" && c.dialect.RawNoCorrelation() && msg.Kind != dialect.KindBinary {
			c.rawNoIndex[resp.Token] = msg.Code
		}
	}
	if isNAK && c.dialect.HardCloseOnNAK() {
		return false
	}
	return true
}

func (c *Connection) saveMedia(ctx context.Context, msg dialect.Message) {
	if msg.Media == nil {
		return
	}
	key := mediaKey(msg)
	var (
		path string
		err  error
	)
	switch {
	case msg.Media.Base64 != "":
		path, err = c.sink.SaveBase64(msg.Media.Base64, msg.Media.Ext, key)
	case len(msg.Media.URLs) > 0:
		for _, u := range msg.Media.URLs {
			path, err = c.sink.SaveURL(ctx, u, key)
			if err != nil {
				c.log.Warn("media url fetch failed", "protocol", c.receiver, "url", u, "error", err)
			}
		}
	default:
		return
	}
	if err != nil {
		c.log.Warn("media save failed", "protocol", c.receiver, "error", err)
		return
	}
	if path != "" {
		c.metrics.MediaSaved.WithLabelValues(c.receiver).Inc()
		c.log.Info("media saved", "protocol", c.receiver, "path", path, "urls", logx.MaskPhotoURLs(msg.Media.URLs))
	}
}

// mediaKey builds the naming token a saved media file is keyed by: the
// classified event code, with a Manitou Binary frame's RawNo and FrameNo
// appended so sibling frames of one Signal land in distinct files.
func mediaKey(msg dialect.Message) string {
	key := msg.Code
	if msg.Kind == dialect.KindBinary && msg.Media.RawNo != "" {
		suffix := fmt.Sprintf("%s_%d", msg.Media.RawNo, msg.Media.FrameNo)
		if key != "" {
			key += "_" + suffix
		} else {
			key = suffix
		}
	}
	if key == "" {
		key = msg.Sequence
	}
	return key
}
