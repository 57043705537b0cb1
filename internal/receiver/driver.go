package receiver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cms-emu/receiver/internal/dialect"
	"github.com/cms-emu/receiver/internal/logx"
	"github.com/cms-emu/receiver/internal/media"
	"github.com/cms-emu/receiver/internal/metrics"
	"github.com/cms-emu/receiver/internal/modeengine"
)

// ShutdownGrace is how long Driver.Shutdown waits for in-flight
// connections to finish after the listener closes.
const ShutdownGrace = 3 * time.Second

// Driver owns one receiver's listener, its shared mode engine and dialect
// instance, and the connection goroutines it spawns.
//
// Grounded on internal/hdhomerun/control.go's ControlServer: one listener
// per bound service, spawn-per-connection, a Serve that blocks until the
// listener is closed.
type Driver struct {
	Name    string
	Engine  *modeengine.Engine
	dialect dialect.Dialect
	sink    *media.Sink
	log     *logx.Logger
	metrics *metrics.Metrics

	wg       sync.WaitGroup
	listener net.Listener
}

// NewDriver builds a Driver for one configured receiver. d must be a fresh
// instance (built once and shared across every connection this driver
// accepts), matching the contract dialect.Factory documents for dialects
// that carry accumulation state. Media is persisted under
// <mediaRoot>/<name>_<port>/, so receivers sharing a protocol name on
// different ports never collide on disk.
func NewDriver(name string, port int, d dialect.Dialect, mediaRoot string, mediaMaxFiles int, log *logx.Logger, m *metrics.Metrics) *Driver {
	mediaDir := fmt.Sprintf("%s_%d", name, port)
	return &Driver{
		Name:    name,
		Engine:  modeengine.New(),
		dialect: d,
		sink:    media.New(mediaRoot, mediaDir, mediaMaxFiles),
		log:     log.WithReceiver(name),
		metrics: m,
	}
}

// Serve binds addr and accepts connections until ctx is cancelled or the
// listener fails. It blocks; callers run it in its own goroutine.
func (drv *Driver) Serve(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("receiver %s: listen %s: %w", drv.Name, addr, err)
	}
	drv.listener = listener
	drv.log.Info("listening", "protocol", drv.Name, "addr", addr)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				drv.wg.Wait()
				return nil
			default:
				drv.log.Warn("accept failed", "protocol", drv.Name, "error", err)
				return err
			}
		}
		drv.wg.Add(1)
		go func(raw net.Conn) {
			defer drv.wg.Done()
			c := NewConnection(raw, drv.Name, drv.dialect, drv.Engine, drv.sink, drv.log, drv.metrics)
			c.Serve(ctx)
		}(conn)
	}
}

// Shutdown closes the listener first, then waits for in-flight connections
// to finish until ctx is done, logging a warning if the grace period
// expires with connections still open.
func (drv *Driver) Shutdown(ctx context.Context) {
	if drv.listener != nil {
		drv.listener.Close()
	}
	done := make(chan struct{})
	go func() {
		drv.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		drv.log.Warn("shutdown grace period expired with connections still open", "protocol", drv.Name)
	}
}
