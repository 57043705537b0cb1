package receiver

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cms-emu/receiver/internal/dialect"
	_ "github.com/cms-emu/receiver/internal/dialect/manitou"
	_ "github.com/cms-emu/receiver/internal/dialect/sentinel"
	"github.com/cms-emu/receiver/internal/logx"
	"github.com/cms-emu/receiver/internal/media"
	"github.com/cms-emu/receiver/internal/metrics"
	"github.com/cms-emu/receiver/internal/modeengine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logx.Logger {
	t.Helper()
	return logx.New(t.TempDir(), "DEBUG")
}

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func TestSentinelConnection_HeartbeatAndEventACK(t *testing.T) {
	d, ok := dialect.New("sentinel")
	require.True(t, ok)

	client, server := net.Pipe()
	defer client.Close()

	engine := modeengine.New()
	sink := media.New(t.TempDir(), "sentinel", 0)
	conn := NewConnection(server, "sentinel", d, engine, sink, newTestLogger(t), newTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Serve(ctx)

	_, err := client.Write([]byte{0x06, 0x14})
	require.NoError(t, err)
	reply := make([]byte, 1)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = client.Read(reply)
	require.NoError(t, err)
	require.Equal(t, byte(0x06), reply[0])

	_, err = client.Write([]byte("CODE=E130|ACCT=1234\n"))
	require.NoError(t, err)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = client.Read(reply)
	require.NoError(t, err)
	require.Equal(t, byte(0x06), reply[0])
}

func TestSentinelConnection_NAKModeReplies(t *testing.T) {
	d, ok := dialect.New("sentinel")
	require.True(t, ok)

	client, server := net.Pipe()
	defer client.Close()

	engine := modeengine.New()
	engine.SetMode(modeengine.NAK, nil, nil)
	sink := media.New(t.TempDir(), "sentinel", 0)
	conn := NewConnection(server, "sentinel", d, engine, sink, newTestLogger(t), newTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Serve(ctx)

	_, err := client.Write([]byte("CODE=E130\n"))
	require.NoError(t, err)
	reply := make([]byte, 1)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = client.Read(reply)
	require.NoError(t, err)
	require.Equal(t, byte(0x15), reply[0])
}

func TestManitouConnection_HardCloseOnNAK(t *testing.T) {
	d, ok := dialect.New("manitou")
	require.True(t, ok)

	client, server := net.Pipe()
	defer client.Close()

	engine := modeengine.New()
	engine.SetMode(modeengine.NAK, nil, nil)
	sink := media.New(t.TempDir(), "manitou", 0)
	conn := NewConnection(server, "manitou", d, engine, sink, newTestLogger(t), newTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		conn.Serve(ctx)
		close(done)
	}()

	frame := []byte{0x02}
	frame = append(frame, []byte(`<Signal Event="E130" Acct="1234"/>`)...)
	frame = append(frame, 0x03)
	_, err := client.Write(frame)
	require.NoError(t, err)

	reply := make([]byte, 256)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(reply)
	require.NoError(t, err)
	require.Contains(t, string(reply[:n]), "<Nak")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not close after NAK")
	}
}

func TestManitouConnection_RawNoCorrelation(t *testing.T) {
	d, ok := dialect.New("manitou")
	require.True(t, ok)

	client, server := net.Pipe()
	defer client.Close()

	mediaDir := t.TempDir()
	engine := modeengine.New()
	sink := media.New(mediaDir, "manitou", 0)
	conn := NewConnection(server, "manitou", d, engine, sink, newTestLogger(t), newTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Serve(ctx)

	signal := []byte{0x02}
	signal = append(signal, []byte(`<Signal Event="E130" Acct="1234"/>`)...)
	signal = append(signal, 0x03)
	_, err := client.Write(signal)
	require.NoError(t, err)

	reply := make([]byte, 256)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(reply)
	require.NoError(t, err)
	ackBody := string(reply[:n])
	require.Contains(t, ackBody, "<RawNo>")

	openTag := "<RawNo>"
	idx := strings.Index(ackBody, openTag) + len(openTag)
	rawNo := ackBody[idx : idx+12]

	binary := []byte{0x02}
	binary = append(binary, []byte(`<Binary RawNo="`+rawNo+`" FrameNo="1"><Data>ZmFrZQ==</Data></Binary>`)...)
	binary = append(binary, 0x03)
	_, err = client.Write(binary)
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = client.Read(reply)
	require.NoError(t, err)
	require.Contains(t, string(reply[:n]), "<RawNo>")

	// Scenario S6: the Binary frame saves to a path keyed by its
	// correlated event code.
	entries, err := os.ReadDir(filepath.Join(mediaDir, "manitou"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Name(), "E130")
}

func TestSentinelConnection_IdleTimeoutDoesNotClose(t *testing.T) {
	d, ok := dialect.New("sentinel")
	require.True(t, ok)

	client, server := net.Pipe()
	defer client.Close()

	engine := modeengine.New()
	sink := media.New(t.TempDir(), "sentinel", 0)
	conn := NewConnection(server, "sentinel", d, engine, sink, newTestLogger(t), newTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		conn.Serve(ctx)
		close(done)
	}()

	// Outlast one idle timeout cycle, then confirm the connection still
	// answers: an idle timeout only logs, it is not a hard-close path.
	time.Sleep(DefaultIdleTimeout + 500*time.Millisecond)

	_, err := client.Write([]byte{0x06, 0x14})
	require.NoError(t, err)
	reply := make([]byte, 1)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = client.Read(reply)
	require.NoError(t, err)
	require.Equal(t, byte(0x06), reply[0])

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not close after context cancellation")
	}
}
