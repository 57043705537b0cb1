// Package sentinel implements the Sentinel dialect: a two-byte 0x06 0x14
// heartbeat, or a single pipe-delimited K=V text record, with single-byte
// 0x06/0x15 ACK/NAK.
//
// Grounded on original_source/protocols/sentinel/{parser,responses,handler}.py.
//
// The original protocol carries no explicit record terminator or length
// prefix for its text form; this implementation terminates a record frame
// at the first '\n' (or "\r\n"), the simplest boundary consistent with
// "single pipe-delimited text record" once the fixed-length heartbeat has
// been ruled out. This is a framing decision the distilled spec leaves
// open, not one of its stated Non-goals; see DESIGN.md.
package sentinel

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cms-emu/receiver/internal/dialect"
)

const Name = "sentinel"

var heartbeat = []byte{0x06, 0x14}

const (
	ackByte = 0x06
	nakByte = 0x15
)

func init() {
	dialect.Register(Name, func() dialect.Dialect { return &Dialect{} })
}

// Dialect implements dialect.Dialect for Sentinel.
type Dialect struct{}

func (d *Dialect) Name() string { return Name }

func (d *Dialect) Scan(buf []byte) (junk int, frameLen int, complete bool) {
	if len(buf) == 0 {
		return 0, 0, false
	}
	if buf[0] == heartbeat[0] {
		if len(buf) < 2 {
			return 0, 0, false
		}
		if buf[1] == heartbeat[1] {
			return 0, 2, true
		}
		// Stray 0x06 not followed by 0x14: not a heartbeat, drop it and
		// let the remaining bytes be re-scanned as a text record.
		return 1, 0, false
	}
	if idx := bytes.IndexByte(buf, '\n'); idx >= 0 {
		return 0, idx + 1, true
	}
	return 0, 0, false
}

func (d *Dialect) Classify(frame []byte) dialect.Message {
	if len(frame) == 2 && frame[0] == heartbeat[0] && frame[1] == heartbeat[1] {
		return dialect.Message{Kind: dialect.KindPing}
	}

	record := strings.Trim(strings.TrimRight(string(frame), "\r\n"), "|")
	fields := map[string]string{}
	var code string
	var mediaURL string
	for _, part := range strings.Split(record, "|") {
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]
		fields[strings.ToLower(key)] = val
		if key == "Event" {
			code = val
		}
		if strings.EqualFold(key, "mediaurl") {
			mediaURL = val
		}
	}

	msg := dialect.Message{
		Kind:  dialect.KindEvent,
		Code:  code,
		Label: fmt.Sprintf("EVENT %s", code),
	}
	if mediaURL != "" {
		msg.Kind = dialect.KindPhoto
		msg.Label = fmt.Sprintf("PHOTO %s", code)
		msg.Media = &dialect.Media{URLs: []string{mediaURL}}
	}
	return msg
}

func (d *Dialect) BuildACK(msg dialect.Message, ts string) dialect.Response {
	return dialect.Response{Bytes: []byte{ackByte}}
}

func (d *Dialect) BuildNAK(msg dialect.Message, ts string, code int) dialect.Response {
	return dialect.Response{Bytes: []byte{nakByte}}
}

func (d *Dialect) DefaultNAKCode() int                      { return 0 }
func (d *Dialect) PingNAKBehavior() dialect.PingNAKBehavior { return dialect.PingNAKReplyNAK }
func (d *Dialect) HardCloseOnNAK() bool                     { return false }
func (d *Dialect) RawNoCorrelation() bool                   { return false }
