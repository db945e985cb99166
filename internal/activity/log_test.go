package activity

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/eventbus"
	"github.com/optionsfi/rfq-router/internal/rfq"
	"github.com/optionsfi/rfq-router/pkg/model"
)

type fixedMakers int

func (f fixedMakers) Count() int { return int(f) }

func steppingClock(start time.Time, step time.Duration) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestLog_RecordAndSince(t *testing.T) {
	start := time.UnixMilli(1_750_000_000_000)
	l := NewLog(10, "rfq-router", nil, zap.NewNop())
	l.now = steppingClock(start, time.Second)

	l.Record(MakerConnected, map[string]any{"makerId": "mm-1", "totalMakers": 1})
	l.Record(MakerDisconnected, map[string]any{"makerId": "mm-1", "totalMakers": 0})
	l.Record(MakerRejected, nil)

	all := l.Since(0)
	require.Len(t, all, 3)
	assert.Equal(t, MakerConnected, all[0].Type)
	assert.Equal(t, "rfq-router", all[0].Source)
	assert.Equal(t, "mm-1", all[0].Data["makerId"])
	assert.NotNil(t, all[2].Data)
	assert.NotEqual(t, all[0].ID, all[1].ID)

	after := l.Since(all[0].Timestamp.UnixMilli())
	require.Len(t, after, 2)
	assert.Equal(t, MakerDisconnected, after[0].Type)

	assert.Empty(t, l.Since(all[2].Timestamp.UnixMilli()))
	assert.Len(t, l.Since(-5), 3)
}

func TestLog_BoundedAndTail(t *testing.T) {
	l := NewLog(0, "rfq-router", nil, nil)
	l.now = steppingClock(time.UnixMilli(1_750_000_000_000), time.Millisecond)

	for i := 0; i < 130; i++ {
		l.Record(RfqCreated, map[string]any{"rfqId": fmt.Sprintf("rfq-%d", i)})
	}
	assert.Equal(t, DefaultCapacity, l.Len())

	tail := l.Since(0)
	require.Len(t, tail, DefaultTail)
	assert.Equal(t, "rfq-80", tail[0].Data["rfqId"])
	assert.Equal(t, "rfq-129", tail[DefaultTail-1].Data["rfqId"])

	cursor := tail[0].Timestamp.UnixMilli() - 51
	assert.Len(t, l.Since(cursor), 100, "oldest retained entry is rfq-30")
}

func TestLog_SubscribeMapsLifecycle(t *testing.T) {
	l := NewLog(10, "rfq-router", fixedMakers(3), zap.NewNop())
	bus := eventbus.New()
	l.Subscribe(bus)

	now := time.Now()
	r := &model.Rfq{
		ID:         "rfq-1",
		RfqRequest: model.RfqRequest{Underlying: "NVDAx", OptionType: model.OptionCall, Strike: 165, Size: 1000},
		Status:     model.StatusOpen,
	}
	bus.Publish(model.NewEnvelope(model.EventRfqCreated, r.ID, r, now))

	quote := model.Quote{Maker: "mm-b", Premium: 2500}
	bus.Publish(model.NewEnvelope(model.EventQuoteAccepted, r.ID, rfq.QuoteAccepted{RfqID: r.ID, Quote: quote, QuoteCount: 1}, now))

	filled := r.Clone()
	filled.Status = model.StatusFilled
	filled.Winner = &quote
	bus.Publish(model.NewEnvelope(model.EventRfqFilled, r.ID, filled, now))
	bus.Publish(model.NewEnvelope(model.EventRfqCreated, "x", "not an rfq", now))
	bus.Close()

	byType := map[string]Entry{}
	for _, e := range l.Since(0) {
		byType[e.Type] = e
	}
	require.Len(t, byType, 3)

	created := byType[RfqCreated].Data
	assert.Equal(t, "rfq-1", created["rfqId"])
	assert.Equal(t, "NVDAx", created["underlying"])
	assert.Equal(t, 3, created["makerCount"])

	assert.Equal(t, "mm-b", byType[QuoteReceived].Data["maker"])
	assert.Equal(t, uint64(2500), byType[QuoteReceived].Data["premium"])
	assert.Equal(t, "mm-b", byType[RfqFilled].Data["maker"])
}
