package receiver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cms-emu/receiver/internal/dialect"
	_ "github.com/cms-emu/receiver/internal/dialect/manitou"
	_ "github.com/cms-emu/receiver/internal/dialect/sentinel"
	_ "github.com/cms-emu/receiver/internal/dialect/siadc09"
	"github.com/stretchr/testify/require"
)

// startDriver binds drv to a loopback port and returns the dialed address
// plus a shutdown func the test must call.
func startDriver(t *testing.T, drv *Driver) (addr string, shutdown func()) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr = listener.Addr().String()
	listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		drv.Serve(ctx, addr)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)

	return addr, func() {
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownGrace)
		defer shutdownCancel()
		drv.Shutdown(shutdownCtx)
		<-done
	}
}

func TestIntegration_SentinelHeartbeatOverLoopback(t *testing.T) {
	d, ok := dialect.New("sentinel")
	require.True(t, ok)
	drv := NewDriver("sentinel", 12004, d, t.TempDir(), 0, newTestLogger(t), newTestMetrics())
	addr, shutdown := startDriver(t, drv)
	defer shutdown()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0x06, 0x14})
	require.NoError(t, err)

	reply := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(reply)
	require.NoError(t, err)
	require.Equal(t, byte(0x06), reply[0])
}

func TestIntegration_SiaDc09EventOverLoopback(t *testing.T) {
	d, ok := dialect.New("sia-dcs")
	require.True(t, ok)
	drv := NewDriver("sia-dcs", 12000, d, t.TempDir(), 0, newTestLogger(t), newTestMetrics())
	addr, shutdown := startDriver(t, drv)
	defer shutdown()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	frame := "4A12200C\"SIA-DCS\"0001R1L1A1#1234[#1234|Nri1/CL501]\r"
	_, err = conn.Write([]byte(frame))
	require.NoError(t, err)

	reply := make([]byte, 512)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(reply)
	require.NoError(t, err)
	require.Contains(t, string(reply[:n]), `"ACK"`)
}

func TestIntegration_ManitouSignalACKOverLoopback(t *testing.T) {
	d, ok := dialect.New("manitou")
	require.True(t, ok)
	drv := NewDriver("manitou", 12002, d, t.TempDir(), 0, newTestLogger(t), newTestMetrics())
	addr, shutdown := startDriver(t, drv)
	defer shutdown()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	frame := []byte{0x02}
	frame = append(frame, []byte(`<Signal Event="E130" Acct="1234"/>`)...)
	frame = append(frame, 0x03)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	reply := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(reply)
	require.NoError(t, err)
	require.Contains(t, string(reply[:n]), "<Ack>")
}
