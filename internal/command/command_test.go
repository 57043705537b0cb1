package command

import (
	"testing"
	"time"

	"github.com/cms-emu/receiver/internal/modeengine"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	engines  map[string]*modeengine.Engine
	logLevel string
}

func newFakeRegistry(names ...string) *fakeRegistry {
	r := &fakeRegistry{engines: map[string]*modeengine.Engine{}}
	for _, n := range names {
		r.engines[n] = modeengine.New()
	}
	return r
}

func (r *fakeRegistry) Engine(name string) (*modeengine.Engine, bool) {
	e, ok := r.engines[name]
	return e, ok
}

func (r *fakeRegistry) SetLogLevel(level string) error {
	r.logLevel = level
	return nil
}

func TestApplyAckWithBudget(t *testing.T) {
	reg := newFakeRegistry("sia-dcs")
	p := NewParser(reg)
	require.NoError(t, p.Apply("sia-dcs ack 3"))
	require.Equal(t, modeengine.ACK, reg.engines["sia-dcs"].Mode())
}

func TestApplyNakThenAck(t *testing.T) {
	reg := newFakeRegistry("masxml")
	p := NewParser(reg)
	require.NoError(t, p.Apply("masxml nak 2 then ack"))
	eng := reg.engines["masxml"]
	require.Equal(t, modeengine.NAK, eng.Mode())
	eng.Decide()
	eng.Decide()
	require.Equal(t, modeengine.ACK, eng.Mode())
}

func TestApplyNakWithExplicitCode(t *testing.T) {
	reg := newFakeRegistry("masxml")
	p := NewParser(reg)
	require.NoError(t, p.Apply("masxml nak9"))
	eng := reg.engines["masxml"]
	require.Equal(t, modeengine.NAK, eng.Mode())
	require.Equal(t, 9, eng.NAKCode(10))
}

func TestApplyDropAndDelay(t *testing.T) {
	reg := newFakeRegistry("microkey")
	p := NewParser(reg)
	require.NoError(t, p.Apply("microkey drop 2"))
	require.Equal(t, modeengine.DropN, reg.engines["microkey"].Mode())

	require.NoError(t, p.Apply("microkey delay 5"))
	require.Equal(t, modeengine.DelayN, reg.engines["microkey"].Mode())
}

func TestApplyTimeOnce(t *testing.T) {
	reg := newFakeRegistry("sia-dcs")
	p := NewParser(reg)
	require.NoError(t, p.Apply("sia-dcs time 2020-08-26 14:46:14 once"))
	ts := reg.engines["sia-dcs"].ResponseTimestamp(time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, "14:46:14,08-26-2020", ts)
}

func TestApplyLogLevel(t *testing.T) {
	reg := newFakeRegistry()
	p := NewParser(reg)
	require.NoError(t, p.Apply("loglevel DEBUG"))
	require.Equal(t, "DEBUG", reg.logLevel)
}

func TestApplyUnknownReceiverErrors(t *testing.T) {
	reg := newFakeRegistry("sia-dcs")
	p := NewParser(reg)
	require.Error(t, p.Apply("bogus ack"))
}

func TestApplyUnknownVerbErrors(t *testing.T) {
	reg := newFakeRegistry("sia-dcs")
	p := NewParser(reg)
	require.Error(t, p.Apply("sia-dcs frobnicate"))
}

func TestApplyInvalidLogLevelErrors(t *testing.T) {
	reg := newFakeRegistry()
	p := NewParser(reg)
	require.Error(t, p.Apply("loglevel NOTALEVEL"))
}
