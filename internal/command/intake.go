package command

import (
	"bufio"
	"context"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// Intake runs the stdin and optional TCP command listeners that feed a
// Parser. Its accept-loop shape follows this repo's usual
// ControlServer.Serve/handleConnection pattern: spawn-per-connection,
// bounded read, single request per connection.
type Intake struct {
	parser *Parser
	logger *log.Logger
}

// NewIntake returns an Intake that applies commands through parser.
func NewIntake(parser *Parser, logger *log.Logger) *Intake {
	return &Intake{parser: parser, logger: logger}
}

// RunStdin reads newline-delimited commands from stdin until ctx is
// cancelled or stdin closes. Stdin commands are fire-and-forget: no
// acknowledgement is written back.
func (in *Intake) RunStdin(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			if err := in.parser.Apply(line); err != nil {
				in.logger.Warn("stdin command rejected", "line", line, "error", err)
			}
		}
	}
}

// RunTCP accepts one command per connection on listener: a UTF-8 line of
// at most 1024 bytes, answered with "OK\n" on success or "ERROR\n" on
// failure, then the connection is closed.
func (in *Intake) RunTCP(ctx context.Context, listener net.Listener) {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				in.logger.Warn("command listener accept failed", "error", err)
				return
			}
		}
		go in.handleTCP(conn)
	}
}

func (in *Intake) handleTCP(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		in.logger.Warn("command connection read failed", "peer", conn.RemoteAddr(), "error", err)
		return
	}

	line := string(buf[:n])
	if err := in.parser.Apply(line); err != nil {
		in.logger.Warn("tcp command rejected", "peer", conn.RemoteAddr(), "line", line, "error", err)
		conn.Write([]byte("ERROR\n"))
		return
	}
	conn.Write([]byte("OK\n"))
}
