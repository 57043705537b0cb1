// Package health implements the readiness checks the operator CLI runs
// against a running (or about to run) receiver process: can each
// configured protocol port accept a TCP connection, and does the metrics
// endpoint answer.
//
// Adapted from this repo's usual CheckProvider/CheckEndpoints shape
// (HEAD/GET against an HTTP target, status-code gated) to this domain's TCP
// listeners: a panel receiver speaks a binary protocol, not HTTP, so "is it
// up" is a dial, not a GET.
package health

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// CheckReceiver dials addr and reports whether a listener is accepting
// connections there, closing the probe connection immediately afterward.
func CheckReceiver(ctx context.Context, addr string) error {
	if addr == "" {
		return fmt.Errorf("no address configured")
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("receiver at %s unreachable: %w", addr, err)
	}
	return conn.Close()
}

// CheckMetrics fetches /metrics at baseURL and reports any status other than
// 200 OK, or a transport failure, as an error.
func CheckMetrics(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/metrics", nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("metrics endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metrics endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}
