package events

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
)

func TestMultiSink(t *testing.T) {
	c := qt.New(t)

	rec := &Recorder{}
	sink := Multi{LogSink{}, rec}
	sink.Emit(&VoteCast{Poll: []byte{1}, Voter: common.HexToAddress("0x01"), Timestamp: time.Now()})
	sink.Emit(&VoteFinalized{Poll: []byte{1}, Outcome: true, TotalVotes: 5})

	evs := rec.Events()
	c.Assert(evs, qt.HasLen, 2)
	c.Assert(evs[0].EventName(), qt.Equals, "voteCast")
	final, ok := evs[1].(*VoteFinalized)
	c.Assert(ok, qt.IsTrue)
	c.Assert(final.TotalVotes, qt.Equals, uint64(5))
}
