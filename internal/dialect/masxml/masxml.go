// Package masxml implements the MASXML dialect: XML frames terminated by
// the literal </XMLMessageClass> closing tag, with multi-part <Payload>
// photo accumulation keyed by PayloadID/PacketNumber.
//
// Grounded on original_source/protocols/masxml/{handler,responses}.py.
package masxml

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/cms-emu/receiver/internal/dialect"
)

const Name = "masxml"

const endTag = "</XMLMessageClass>"

func init() {
	dialect.Register(Name, func() dialect.Dialect { return New() })
}

var (
	seqPattern         = regexp.MustCompile(`<MessageSequenceNo>(\d+)</MessageSequenceNo>`)
	typePattern        = regexp.MustCompile(`<MessageType>([^<]*)</MessageType>`)
	payloadIDPattern   = regexp.MustCompile(`<PayloadID>([^<]*)</PayloadID>`)
	packetNoPattern    = regexp.MustCompile(`<PacketNumber>(\d+)</PacketNumber>`)
	fileNamePattern    = regexp.MustCompile(`<FileName>([^<]*)</FileName>`)
	lastFilePattern    = regexp.MustCompile(`<LastFile>\s*true\s*</LastFile>`)
	payloadDataPattern = regexp.MustCompile(`<PacketData>([^<]*)</PacketData>`)
	accountPattern     = regexp.MustCompile(`<AccountNo>([^<]*)</AccountNo>`)
	fileNamePrefixNum  = regexp.MustCompile(`^(\d+)`)
)

type pendingPayload struct {
	parts map[int]string
	ext   string
}

// Dialect implements dialect.Dialect for MASXML. Instances accumulate
// multi-part photo payloads, so a receiver shares one Dialect instance
// across all of its connections.
type Dialect struct {
	mu       sync.Mutex
	payloads map[string]*pendingPayload
}

// New returns a ready Dialect with empty payload accumulation state.
func New() *Dialect {
	return &Dialect{payloads: map[string]*pendingPayload{}}
}

func (d *Dialect) Name() string { return Name }

func (d *Dialect) Scan(buf []byte) (junk int, frameLen int, complete bool) {
	idx := bytes.Index(buf, []byte(endTag))
	if idx < 0 {
		return 0, 0, false
	}
	return 0, idx + len(endTag), true
}

func (d *Dialect) Classify(frame []byte) dialect.Message {
	if d.isPing(frame) {
		return dialect.Message{Kind: dialect.KindPing}
	}
	s := string(frame)
	seq := "0000"
	if m := seqPattern.FindStringSubmatch(s); m != nil {
		seq = m[1]
	}
	account := "unknown"
	if m := accountPattern.FindStringSubmatch(s); m != nil {
		account = m[1]
	}
	msgType := "EVENT"
	if m := typePattern.FindStringSubmatch(s); m != nil {
		msgType = m[1]
	}

	msg := dialect.Message{
		Kind:     dialect.KindEvent,
		Code:     msgType,
		Sequence: seq,
		Account:  account,
		Label:    fmt.Sprintf("EVENT %s", msgType),
	}

	if payloadIDPattern.MatchString(s) {
		d.accumulatePayload(s, &msg)
	}
	return msg
}

// accumulatePayload folds one <Payload> part into the pending set for its
// PayloadID, reclassifying msg as PHOTO once <LastFile>true</LastFile>
// closes the set.
func (d *Dialect) accumulatePayload(frame string, msg *dialect.Message) {
	idMatch := payloadIDPattern.FindStringSubmatch(frame)
	if idMatch == nil {
		return
	}
	payloadID := idMatch[1]

	packetNo := 0
	if m := packetNoPattern.FindStringSubmatch(frame); m != nil {
		packetNo, _ = strconv.Atoi(m[1])
	} else if m := fileNamePattern.FindStringSubmatch(frame); m != nil {
		if pm := fileNamePrefixNum.FindStringSubmatch(m[1]); pm != nil {
			packetNo, _ = strconv.Atoi(pm[1])
		}
	}

	data := ""
	if m := payloadDataPattern.FindStringSubmatch(frame); m != nil {
		data = m[1]
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.payloads[payloadID]
	if !ok {
		p = &pendingPayload{parts: map[int]string{}, ext: "jpg"}
		d.payloads[payloadID] = p
	}
	p.parts[packetNo] = data

	if !lastFilePattern.MatchString(frame) {
		return
	}

	// Assemble in packet-number order from 0; a gap in the numbering is
	// reported in msg.Label after the PHOTO label. The packet number comes
	// from PacketNumber when present and from the FileName prefix only when
	// it is absent; a disagreement between the two is not detected.
	ordered := make([]string, 0, len(p.parts))
	warning := ""
	for i := 0; i < len(p.parts); i++ {
		part, have := p.parts[i]
		if !have {
			warning = fmt.Sprintf("WARNING missing packet %d for payload %s", i, payloadID)
		}
		ordered = append(ordered, part)
	}
	full := ""
	for _, part := range ordered {
		full += part
	}
	delete(d.payloads, payloadID)

	msg.Kind = dialect.KindPhoto
	msg.Media = &dialect.Media{Base64: full, Ext: p.ext}
	msg.Label = fmt.Sprintf("PHOTO %s", msg.Code)
	if warning != "" {
		msg.Label += " " + warning
	}
}

func (d *Dialect) isPing(frame []byte) bool {
	return bytes.Contains(frame, []byte("<MessageType>HEARTBEAT</MessageType>"))
}

func (d *Dialect) BuildACK(msg dialect.Message, ts string) dialect.Response {
	return dialect.Response{Bytes: []byte(envelope(msg.Sequence, 0, "ok"))}
}

func (d *Dialect) BuildNAK(msg dialect.Message, ts string, code int) dialect.Response {
	return dialect.Response{Bytes: []byte(envelope(msg.Sequence, code, "reason"))}
}

func envelope(seq string, code int, text string) string {
	return fmt.Sprintf(
		"<AckNakClass><MessageSequenceNo>%s</MessageSequenceNo><ResultCode>%d</ResultCode><ResultText>%s</ResultText></AckNakClass>",
		seq, code, text,
	)
}

func (d *Dialect) DefaultNAKCode() int                      { return 10 }
func (d *Dialect) PingNAKBehavior() dialect.PingNAKBehavior { return dialect.PingNAKReplyNAK }
func (d *Dialect) HardCloseOnNAK() bool                     { return false }
func (d *Dialect) RawNoCorrelation() bool                   { return false }
