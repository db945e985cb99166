package taker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optionsfi/rfq-router/pkg/model"
)

// scriptedRouter serves a fixed sequence of status views; the last one
// repeats. A successful fill flips the status to FILLED.
type scriptedRouter struct {
	mu      sync.Mutex
	views   []model.RfqStatusView
	polls   int
	fills   int
	filled  bool
	pollErr error
}

func (s *scriptedRouter) GetStatus(ctx context.Context, id string) (*model.RfqStatusView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.pollErr != nil {
		err := s.pollErr
		s.pollErr = nil
		return nil, err
	}
	if len(s.views) == 0 {
		return nil, nil
	}
	v := s.views[0]
	if len(s.views) > 1 {
		s.views = s.views[1:]
	}
	if s.filled {
		v.Status = model.StatusFilled
	}
	return &v, nil
}

func (s *scriptedRouter) Fill(ctx context.Context, id string) (model.FillResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills++
	s.filled = true
	return model.FillResult{Success: true, Filled: &model.Fill{RfqID: id, Maker: "B", Premium: 2500}}, nil
}

func fastFiller(api Poller) *AutoFiller {
	a := NewAutoFiller(api, nil)
	a.PollInterval = time.Millisecond
	a.FillDelay = 5 * time.Millisecond
	return a
}

func TestAutoFiller_FillsAfterFirstQuote(t *testing.T) {
	router := &scriptedRouter{views: []model.RfqStatusView{
		{ID: "r1", Status: model.StatusOpen},
		{ID: "r1", Status: model.StatusOpen, QuoteCount: 1},
	}}
	var updates int
	a := fastFiller(router)
	a.OnUpdate = func(*model.RfqStatusView) { updates++ }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := a.Run(ctx, "r1")
	require.NoError(t, err)

	require.NotNil(t, out.Fill)
	assert.True(t, out.Fill.Success)
	assert.Equal(t, model.StatusFilled, out.Status.Status)
	assert.Equal(t, 1, router.fills)
	assert.GreaterOrEqual(t, updates, 3)
}

func TestAutoFiller_StopsWhenClosedElsewhere(t *testing.T) {
	router := &scriptedRouter{views: []model.RfqStatusView{
		{ID: "r1", Status: model.StatusOpen},
		{ID: "r1", Status: model.StatusExpired},
	}}

	out, err := fastFiller(router).Run(context.Background(), "r1")
	require.NoError(t, err)
	assert.Nil(t, out.Fill)
	assert.Equal(t, model.StatusExpired, out.Status.Status)
	assert.Zero(t, router.fills)
}

func TestAutoFiller_UnknownRFQ(t *testing.T) {
	_, err := fastFiller(&scriptedRouter{}).Run(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownRFQ)
}

func TestAutoFiller_PollErrorsAreTolerated(t *testing.T) {
	router := &scriptedRouter{
		pollErr: errors.New("connection refused"),
		views:   []model.RfqStatusView{{ID: "r1", Status: model.StatusCancelled}},
	}

	out, err := fastFiller(router).Run(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, out.Status.Status)
	assert.Equal(t, 2, router.polls)
}

func TestAutoFiller_ContextCancel(t *testing.T) {
	router := &scriptedRouter{views: []model.RfqStatusView{{ID: "r1", Status: model.StatusOpen}}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := fastFiller(router).Run(ctx, "r1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
