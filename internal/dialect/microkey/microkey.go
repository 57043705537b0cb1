// Package microkey implements the Micro Key dialect: text frames ending at
// </Signals><Checksum>XXXX</Checksum>, with per-signal photo/link/event
// classification and aggregated "[CATEGORY CODE xN]" labeling across all
// signals carried in one frame.
//
// Grounded on original_source/protocols/microkey/{parser,responses}.py.
package microkey

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cms-emu/receiver/internal/dialect"
)

const Name = "microkey"

func init() {
	dialect.Register(Name, func() dialect.Dialect { return &Dialect{} })
}

var (
	frameEndPattern  = regexp.MustCompile(`</Signals><Checksum>[0-9A-Fa-f]{4}</Checksum>`)
	signalPattern    = regexp.MustCompile(`(?s)<Signal>(.*?)</Signal>`)
	codePattern      = regexp.MustCompile(`<Code>([^<]*)</Code>`)
	urlPattern       = regexp.MustCompile(`\w[\w+.\-]*://[^\s<]+`)
	imageExtPattern  = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|webp|bmp|tif|tiff)(\?|$)`)
	cdnHostHint      = regexp.MustCompile(`(?i)imagesvc`)
	cdnPathHint      = regexp.MustCompile(`(?i)(/s/|image_|/original/)`)
	serviceHint      = regexp.MustCompile(`(?i)(app_video-svc|app_company-svc)`)
	pingSignalCount0 = regexp.MustCompile(`<SignalCount>0</SignalCount>`)
	pingTag          = regexp.MustCompile(`(?i)<Ping|<Status>PING</Status>`)
	sequencePattern  = regexp.MustCompile(`<Sequence>(\d+)</Sequence>`)
)

// photoCodeWhitelist lists codes treated as photo-bearing even without a
// recognizable image URL.
var photoCodeWhitelist = map[string]bool{
	"E130": true,
}

// categoryOverrides is consulted before URL heuristics.
var categoryOverrides = map[string]string{
	"E130": "photo",
}

// Dialect implements dialect.Dialect for Micro Key.
type Dialect struct{}

func (d *Dialect) Name() string { return Name }

func (d *Dialect) Scan(buf []byte) (junk int, frameLen int, complete bool) {
	loc := frameEndPattern.FindIndex(buf)
	if loc == nil {
		return 0, 0, false
	}
	return 0, loc[1], true
}

func (d *Dialect) Classify(frame []byte) dialect.Message {
	if d.isPing(frame) {
		return dialect.Message{Kind: dialect.KindPing}
	}

	s := string(frame)
	seq := "0000"
	if m := sequencePattern.FindStringSubmatch(s); m != nil {
		seq = m[1]
	}

	type group struct {
		category, code string
		count          int
		urls           []string
	}
	var order []string
	groups := map[string]*group{}

	for _, sm := range signalPattern.FindAllStringSubmatch(s, -1) {
		body := sm[1]
		code := ""
		if cm := codePattern.FindStringSubmatch(body); cm != nil {
			code = cm[1]
		}
		urls := urlPattern.FindAllString(body, -1)
		category := classifySignal(code, urls)

		key := category + "|" + code
		g, ok := groups[key]
		if !ok {
			g = &group{category: category, code: code}
			groups[key] = g
			order = append(order, key)
		}
		g.count++
		g.urls = append(g.urls, urls...)
	}

	var labelParts []string
	var allURLs []string
	dominant := dialect.KindEvent
	for _, key := range order {
		g := groups[key]
		labelParts = append(labelParts, fmt.Sprintf("[%s %s x%d]", strings.ToUpper(g.category), g.code, g.count))
		allURLs = append(allURLs, g.urls...)
		if g.category == "photo" {
			dominant = dialect.KindPhoto
		} else if g.category == "link" && dominant != dialect.KindPhoto {
			dominant = dialect.KindLink
		}
	}

	msg := dialect.Message{
		Kind:     dominant,
		Sequence: seq,
		Label:    strings.Join(labelParts, " "),
	}
	if len(allURLs) > 0 {
		msg.Media = &dialect.Media{URLs: allURLs}
	}
	return msg
}

func classifySignal(code string, urls []string) string {
	if override, ok := categoryOverrides[code]; ok {
		return override
	}
	for _, u := range urls {
		if imageExtPattern.MatchString(u) {
			return "photo"
		}
	}
	for _, u := range urls {
		if cdnHostHint.MatchString(u) || cdnPathHint.MatchString(u) || serviceHint.MatchString(u) {
			return "photo"
		}
	}
	if len(urls) > 0 {
		return "link"
	}
	if photoCodeWhitelist[code] {
		return "photo"
	}
	return "event"
}

func (d *Dialect) isPing(frame []byte) bool {
	return pingSignalCount0.Match(frame) || pingTag.Match(frame)
}

func (d *Dialect) BuildACK(msg dialect.Message, ts string) dialect.Response {
	labels := withPrefix(msg.Label, "ACK")
	body := fmt.Sprintf("\r<Response><Sequence>%s</Sequence><Status>ACK</Status><Labels>%s</Labels><Checksum>4FE9</Checksum>\n", msg.Sequence, labels)
	return dialect.Response{Bytes: []byte(body)}
}

func (d *Dialect) BuildNAK(msg dialect.Message, ts string, code int) dialect.Response {
	labels := withPrefix(msg.Label, "NAK")
	body := fmt.Sprintf("\r<Response><Sequence>%s</Sequence><Status>NAK</Status><Error>%d</Error><Labels>%s</Labels><Checksum>0000</Checksum>\n", msg.Sequence, code, labels)
	return dialect.Response{Bytes: []byte(body)}
}

func withPrefix(label, prefix string) string {
	if label == "" {
		return ""
	}
	return strings.ReplaceAll(label, "[", "["+prefix+" ")
}

func (d *Dialect) DefaultNAKCode() int                      { return 0 }
func (d *Dialect) PingNAKBehavior() dialect.PingNAKBehavior { return dialect.PingNAKReplyNAK }
func (d *Dialect) HardCloseOnNAK() bool                     { return false }
func (d *Dialect) RawNoCorrelation() bool                   { return false }
