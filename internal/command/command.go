// Package command implements the line-oriented operator grammar that
// mutates a receiver's mode engine at runtime, plus the stdin and optional
// TCP intake loops that feed it.
//
// Grounded on original_source/utils/{stdin_listener,command_server}.py. The
// original's grammar addresses a single implicit protocol_key because each
// protocol ran its own process with its own stdin; this build runs every
// receiver as a goroutine in one process sharing one stdin and one command
// port, so commands are prefixed with the target receiver name (e.g.
// "sia-dcs ack 3"). loglevel is the one process-global exception. This
// generalization is recorded in DESIGN.md.
package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cms-emu/receiver/internal/modeengine"
)

// ValidLogLevels mirrors the original's accepted loglevel verbs.
var ValidLogLevels = []string{"TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}

var modesWithCount = map[string]modeengine.Mode{
	"ack":         modeengine.ACK,
	"nak":         modeengine.NAK,
	"no-response": modeengine.NoResponse,
}

var namedModes = map[string]modeengine.Mode{
	"ack":         modeengine.ACK,
	"nak":         modeengine.NAK,
	"no-response": modeengine.NoResponse,
	"only-ping":   modeengine.OnlyPing,
	"drop":        modeengine.DropN,
	"delay":       modeengine.DelayN,
}

var nakCodePattern = regexp.MustCompile(`^nak(\d+)$`)

// Registry resolves a receiver name to its mode engine and applies the
// process-global log level change.
type Registry interface {
	Engine(receiver string) (*modeengine.Engine, bool)
	SetLogLevel(level string) error
}

// Parser applies operator command lines against a Registry.
type Parser struct {
	reg Registry
}

// NewParser returns a Parser bound to reg.
func NewParser(reg Registry) *Parser {
	return &Parser{reg: reg}
}

// Apply parses and executes one command line. A malformed or unknown
// command returns an error and leaves all engine state untouched.
func (p *Parser) Apply(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	if strings.EqualFold(fields[0], "loglevel") {
		return p.applyLogLevel(fields)
	}

	if len(fields) < 2 {
		return fmt.Errorf("command: missing verb for receiver %q", fields[0])
	}
	eng, ok := p.reg.Engine(strings.ToLower(fields[0]))
	if !ok {
		return fmt.Errorf("command: unknown receiver %q", fields[0])
	}
	return applyVerb(eng, fields[1:])
}

func (p *Parser) applyLogLevel(fields []string) error {
	if len(fields) != 2 {
		return fmt.Errorf("command: loglevel requires exactly one level")
	}
	level := strings.ToUpper(fields[1])
	for _, v := range ValidLogLevels {
		if v == level {
			return p.reg.SetLogLevel(level)
		}
	}
	return fmt.Errorf("command: invalid log level %q", fields[1])
}

func applyVerb(eng *modeengine.Engine, fields []string) error {
	verb := strings.ToLower(fields[0])
	rest := fields[1:]

	if verb == "only-ping" {
		eng.SetMode(modeengine.OnlyPing, nil, nil)
		return nil
	}
	if verb == "drop" {
		n, err := requireInt(rest, "drop")
		if err != nil {
			return err
		}
		eng.SetDrop(n)
		return nil
	}
	if verb == "delay" {
		n, err := requireInt(rest, "delay")
		if err != nil {
			return err
		}
		eng.SetDelay(n)
		return nil
	}
	if verb == "time" {
		return applyTime(eng, rest)
	}
	if mode, ok := modesWithCount[verb]; ok {
		return applyCountedMode(eng, mode, rest)
	}
	if m := nakCodePattern.FindStringSubmatch(verb); m != nil {
		code, _ := strconv.Atoi(m[1])
		eng.SetNAKCode(code)
		budget, next := parseCountThen(rest)
		eng.SetMode(modeengine.NAK, budget, next)
		return nil
	}
	return fmt.Errorf("command: unknown verb %q", verb)
}

func applyCountedMode(eng *modeengine.Engine, mode modeengine.Mode, rest []string) error {
	budget, next := parseCountThen(rest)
	eng.SetMode(mode, budget, next)
	return nil
}

// parseCountThen parses "[N] [then MODE]" tails shared by ack/nak/no-response.
func parseCountThen(rest []string) (budget *int, next *modeengine.Mode) {
	if len(rest) == 0 {
		return nil, nil
	}
	if n, err := strconv.Atoi(rest[0]); err == nil {
		budget = &n
		rest = rest[1:]
	}
	if len(rest) >= 2 && strings.EqualFold(rest[0], "then") {
		if m, ok := namedModes[strings.ToLower(rest[1])]; ok {
			next = &m
		}
	}
	return budget, next
}

func requireInt(rest []string, verb string) (int, error) {
	if len(rest) == 0 {
		return 0, fmt.Errorf("command: %s requires an integer argument", verb)
	}
	n, err := strconv.Atoi(rest[0])
	if err != nil {
		return 0, fmt.Errorf("command: %s requires an integer argument, got %q", verb, rest[0])
	}
	return n, nil
}

func applyTime(eng *modeengine.Engine, rest []string) error {
	if len(rest) < 2 {
		return fmt.Errorf("command: time requires a date and a time argument")
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", rest[0]+" "+rest[1], time.Local)
	if err != nil {
		return fmt.Errorf("command: invalid time %q %q: %w", rest[0], rest[1], err)
	}

	duration := modeengine.Forever
	count := -1
	if len(rest) >= 3 {
		switch {
		case strings.EqualFold(rest[2], "once"):
			duration = modeengine.Once
			count = 1
		default:
			if n, err := strconv.Atoi(rest[2]); err == nil {
				duration = modeengine.Times
				count = n
			}
		}
	}
	eng.SetTime(ts, duration, count)
	return nil
}
