package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
)

func TestPollIDMarshal(t *testing.T) {
	c := qt.New(t)

	id := &PollID{
		Authority: common.HexToAddress("0x0102030405060708090a0b0c0d0e0f1011121314"),
		Nonce:     42,
	}
	data := id.Marshal()
	c.Assert(data, qt.HasLen, PollIDLen)

	decoded := &PollID{}
	c.Assert(decoded.Unmarshal(data), qt.IsNil)
	c.Assert(decoded, qt.DeepEquals, id)

	parsed, err := PollIDFromString(id.String())
	c.Assert(err, qt.IsNil)
	c.Assert(parsed, qt.DeepEquals, id)

	c.Assert(decoded.Unmarshal(data[:10]), qt.IsNotNil)
	_, err = PollIDFromString("zz")
	c.Assert(err, qt.IsNotNil)
}

func TestPollState(t *testing.T) {
	c := qt.New(t)

	t0 := time.Unix(1_700_000_000, 0)
	p := &Poll{Window: Window{Start: t0, End: t0.Add(100 * time.Second)}}
	c.Assert(p.Window.Valid(), qt.IsTrue)
	c.Assert(Window{Start: t0, End: t0}.Valid(), qt.IsFalse)

	c.Assert(p.State(t0.Add(-time.Second)), qt.Equals, PollCreated)
	c.Assert(p.State(t0), qt.Equals, PollOpen)
	c.Assert(p.Window.Contains(t0), qt.IsTrue)
	c.Assert(p.State(t0.Add(99*time.Second)), qt.Equals, PollOpen)
	c.Assert(p.State(t0.Add(100*time.Second)), qt.Equals, PollClosed)
	c.Assert(p.Window.Contains(t0.Add(100*time.Second)), qt.IsFalse)

	p.Finalized = true
	c.Assert(p.State(t0), qt.Equals, PollFinalized)
}

func TestStatusJSON(t *testing.T) {
	c := qt.New(t)

	r := &VoteReceipt{Status: ReceiptFailed}
	data, err := json.Marshal(r)
	c.Assert(err, qt.IsNil)
	decoded := &VoteReceipt{}
	c.Assert(json.Unmarshal(data, decoded), qt.IsNil)
	c.Assert(decoded.Status, qt.Equals, ReceiptFailed)
	c.Assert(ReceiptFailed.Blocks(), qt.IsFalse)
	c.Assert(ReceiptPending.Blocks(), qt.IsTrue)
	c.Assert(ReceiptCounted.Blocks(), qt.IsTrue)

	var ts TallyStatus
	c.Assert(ts.UnmarshalText([]byte("ready")), qt.IsNil)
	c.Assert(ts, qt.Equals, TallyReady)
	c.Assert(ts.UnmarshalText([]byte("bogus")), qt.IsNotNil)

	var cs CallbackStatus
	c.Assert(cs.UnmarshalText([]byte("aborted")), qt.IsNil)
	c.Assert(cs, qt.Equals, CallbackAborted)
}

func TestHexBytesJSON(t *testing.T) {
	c := qt.New(t)

	b := HexBytes{0xde, 0xad}
	data, err := json.Marshal(b)
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, `"0xdead"`)

	var decoded HexBytes
	c.Assert(json.Unmarshal([]byte(`"beef"`), &decoded), qt.IsNil)
	c.Assert(decoded, qt.DeepEquals, HexBytes{0xbe, 0xef})
}
