// Package manitou implements the Manitou MASXML-family dialect: STX/ETX
// binary envelopes carrying <Signal>/<Binary> XML payloads, with a
// hard-close-on-NAK policy and RawNo correlation between a Signal's ACK
// and later Binary frames for the same event.
//
// Grounded on original_source/protocols/manitou/{responses,mode_switcher}.py
// and its canonical XML/STX-ETX framing (the legacy pipe-style Manitou
// header parser is not ported; see DESIGN.md).
package manitou

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"

	"github.com/cms-emu/receiver/internal/dialect"
	"github.com/cms-emu/receiver/internal/idgen"
)

const Name = "manitou"

const (
	stx = 0x02
	etx = 0x03
)

func init() {
	dialect.Register(Name, func() dialect.Dialect { return &Dialect{} })
}

var (
	eventPattern   = regexp.MustCompile(`(?i)<Signal[^>]*\bEvent="([^"]*)"`)
	rawNoPattern   = regexp.MustCompile(`(?i)\bRawNo="([^"]*)"`)
	frameNoPattern = regexp.MustCompile(`(?i)\bFrameNo="(\d+)"`)
	dataPattern    = regexp.MustCompile(`(?is)<Data[^>]*>([^<]*)</Data>`)
	pingPattern    = regexp.MustCompile(`(?i)<Heartbeat|<Ping|<MessageType>HEARTBEAT</MessageType>`)
)

// Dialect implements dialect.Dialect for Manitou.
type Dialect struct{}

func (d *Dialect) Name() string { return Name }

// Scan discards any noise preceding the first STX, then waits for a
// matching ETX to close the frame.
func (d *Dialect) Scan(buf []byte) (junk int, frameLen int, complete bool) {
	start := bytes.IndexByte(buf, stx)
	if start < 0 {
		return len(buf), 0, false
	}
	end := bytes.IndexByte(buf[start:], etx)
	if end < 0 {
		return start, 0, false
	}
	return start, end + 1, true
}

func (d *Dialect) Classify(frame []byte) dialect.Message {
	body := trimEnvelope(frame)
	if pingPattern.Match(body) {
		return dialect.Message{Kind: dialect.KindPing}
	}

	if m := rawNoPattern.FindSubmatch(body); m != nil && bytes.Contains(body, []byte("<Binary")) {
		rawNo := string(m[1])
		frameNo := 0
		if fm := frameNoPattern.FindSubmatch(body); fm != nil {
			frameNo, _ = strconv.Atoi(string(fm[1]))
		}
		data := ""
		if dm := dataPattern.FindSubmatch(body); dm != nil {
			data = string(dm[1])
		}
		return dialect.Message{
			Kind:     dialect.KindBinary,
			Sequence: rawNo,
			Media:    &dialect.Media{Base64: data, RawNo: rawNo, FrameNo: frameNo, Ext: "jpg"},
		}
	}

	code := ""
	if m := eventPattern.FindSubmatch(body); m != nil {
		code = string(m[1])
	}
	return dialect.Message{
		Kind:  dialect.KindEvent,
		Code:  code,
		Label: fmt.Sprintf("EVENT %s", code),
	}
}

func trimEnvelope(frame []byte) []byte {
	if len(frame) >= 2 && frame[0] == stx {
		frame = frame[1:]
	}
	if len(frame) >= 1 && frame[len(frame)-1] == etx {
		frame = frame[:len(frame)-1]
	}
	return frame
}

func (d *Dialect) BuildACK(msg dialect.Message, ts string) dialect.Response {
	rawNo := idgen.RawNo()
	body := fmt.Sprintf(`<?xml version="1.0"?><Ack><RawNo>%s</RawNo></Ack>`, rawNo)
	return dialect.Response{Bytes: wrap(body), Token: rawNo}
}

func (d *Dialect) BuildNAK(msg dialect.Message, ts string, code int) dialect.Response {
	index := idgen.NAKIndex()
	body := fmt.Sprintf(`<?xml version="1.0"?><Nak Index="%s" Code="%d"/>`, index, code)
	return dialect.Response{Bytes: wrap(body), Token: index}
}

func wrap(body string) []byte {
	out := make([]byte, 0, len(body)+2)
	out = append(out, stx)
	out = append(out, []byte(body)...)
	out = append(out, etx)
	return out
}

func (d *Dialect) DefaultNAKCode() int                      { return 10 }
func (d *Dialect) PingNAKBehavior() dialect.PingNAKBehavior { return dialect.PingNAKReplyACK }
func (d *Dialect) HardCloseOnNAK() bool                     { return true }
func (d *Dialect) RawNoCorrelation() bool                   { return true }
