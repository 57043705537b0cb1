// Package siadc09 implements the SIA-DC09 / ADM-CID dialect: CRC+length
// framed messages terminated by \r, with a three-tier header regex fallback
// ladder for sequence/receiver/line/area/account extraction.
//
// Grounded on original_source/protocols/sia_dc09/{parser,responses,handler}.py.
package siadc09

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/cms-emu/receiver/internal/dialect"
)

const Name = "sia-dcs"

func init() {
	dialect.Register(Name, func() dialect.Dialect { return &Dialect{} })
}

// headerFull captures the compound CRC+length+type+sequence+receiver+line+
// area+account header in one pass.
var headerFull = regexp.MustCompile(`"[A-Z0-9\-]+"\s*(\d{4})R(\d+)L(\d+)A(\d+)#(\w+)`)

// headerLoose drops receiver/area, matching a looser "TYPE" NNNN L0#ACCT shape.
var headerLoose = regexp.MustCompile(`"[A-Z\-]+"\s*(\d{4})L(\d+)#(\w+)`)

// headerMinimal is the final fallback: bare sequence/line followed by '#';
// the account keeps its default.
var headerMinimal = regexp.MustCompile(`(\d{4})\s*L(\d+)#`)

var areaPattern = regexp.MustCompile(`/PA(\d+)`)

type fields struct {
	sequence, receiver, line, area, account string
}

func defaultFields() fields {
	return fields{sequence: "0000", receiver: "R0", line: "L0", area: "A0", account: "acct"}
}

func extractFields(frame []byte) fields {
	f := defaultFields()
	s := string(frame)

	if m := headerFull.FindStringSubmatch(s); m != nil {
		f.sequence = m[1]
		f.receiver = "R" + m[2]
		f.line = "L" + m[3]
		f.area = "A" + m[4]
		f.account = m[5]
		return f
	}
	if m := headerLoose.FindStringSubmatch(s); m != nil {
		f.sequence = m[1]
		f.line = "L" + m[2]
		f.account = m[3]
		if am := areaPattern.FindStringSubmatch(s); am != nil {
			f.area = "A" + am[1]
		}
		return f
	}
	if m := headerMinimal.FindStringSubmatch(s); m != nil {
		f.sequence = m[1]
		f.line = "L" + m[2]
	}
	return f
}

// Dialect implements dialect.Dialect for SIA-DC09 / ADM-CID.
type Dialect struct{}

func (d *Dialect) Name() string { return Name }

// Scan treats each \r-terminated chunk as one complete frame; SIA-DC09 does
// not straddle reads in practice, but framing still honors partial reads.
func (d *Dialect) Scan(buf []byte) (junk int, frameLen int, complete bool) {
	idx := bytes.IndexByte(buf, '\r')
	if idx < 0 {
		return 0, 0, false
	}
	return 0, idx + 1, true
}

func (d *Dialect) Classify(frame []byte) dialect.Message {
	if d.isPing(frame) {
		return dialect.Message{Kind: dialect.KindPing}
	}
	f := extractFields(frame)
	code := eventCode(frame)
	return dialect.Message{
		Kind:     dialect.KindEvent,
		Code:     code,
		Sequence: f.sequence,
		Receiver: f.receiver,
		Line:     f.line,
		Area:     f.area,
		Account:  f.account,
		Label:    fmt.Sprintf("EVENT %s", code),
	}
}

var typePattern = regexp.MustCompile(`"([A-Z0-9\-]+)"`)

func eventCode(frame []byte) string {
	if m := typePattern.FindSubmatch(frame); m != nil {
		return string(m[1])
	}
	return ""
}

func (d *Dialect) isPing(frame []byte) bool {
	return bytes.Contains(frame, []byte(`"NULL"`))
}

func (d *Dialect) BuildACK(msg dialect.Message, ts string) dialect.Response {
	rest := fmt.Sprintf(`"ACK"%s%s%s%s#%s[]_%s`, msg.Sequence, echoOr(msg.Receiver, "R0"), echoOr(msg.Line, "L0"), echoOr(msg.Area, "A0"), echoOr(msg.Account, "acct"), ts)
	return dialect.Response{Bytes: []byte("4AA90LLL" + rest + "\r")}
}

func (d *Dialect) BuildNAK(msg dialect.Message, ts string, code int) dialect.Response {
	rest := fmt.Sprintf(`"NAK"%s%s%s%s#%s[]_%s`, msg.Sequence, echoOr(msg.Receiver, "R0"), echoOr(msg.Line, "L0"), echoOr(msg.Area, "A0"), echoOr(msg.Account, "acct"), ts)
	return dialect.Response{Bytes: []byte("4B89007B0001" + rest + "\r")}
}

func echoOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func (d *Dialect) DefaultNAKCode() int                      { return 0 }
func (d *Dialect) PingNAKBehavior() dialect.PingNAKBehavior { return dialect.PingNAKReplyNAK }
func (d *Dialect) HardCloseOnNAK() bool                     { return false }
func (d *Dialect) RawNoCorrelation() bool                   { return false }
