package mqhandler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	mqcontracts "trustfund/contracts/mq"
	"trustfund/pkg/mq"
	"trustfund/pkg/util"
)

func newAuditHandler(t *testing.T) (*EscrowAuditHandler, *observer.ObservedLogs) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	core, logs := observer.New(zapcore.InfoLevel)
	return NewEscrowAuditHandler(util.NewDeduper(rdb, time.Hour), zap.New(core)), logs
}

func released(t *testing.T) mq.Delivery {
	t.Helper()
	body, err := json.Marshal(mqcontracts.FundsReleasedPayload{
		Envelope:    mqcontracts.NewEnvelope("trace-1", time.Now()),
		Project:     "P",
		Milestone:   "M",
		MilestoneID: 1,
		Amount:      100,
		Destination: "F",
	})
	require.NoError(t, err)
	return mq.Delivery{RoutingKey: mqcontracts.RoutingFundsReleased, Body: body}
}

func TestAuditRecordsEventOnce(t *testing.T) {
	h, logs := newAuditHandler(t)
	d := released(t)

	require.NoError(t, h.Handle(context.Background(), d))
	require.NoError(t, h.Handle(context.Background(), d))

	entries := logs.FilterMessage("Escrow event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, uint64(100), fields["amount"])
	assert.Equal(t, "F", fields["destination"])
	assert.Equal(t, mqcontracts.RoutingFundsReleased, fields["routing_key"])
}

func TestAuditRejectsMalformed(t *testing.T) {
	h, logs := newAuditHandler(t)

	err := h.Handle(context.Background(), mq.Delivery{RoutingKey: "escrow.project.accepted", Body: []byte("{")})
	require.Error(t, err)
	retryable, _ := util.IsRetryableError(err)
	assert.False(t, retryable)

	err = h.Handle(context.Background(), mq.Delivery{RoutingKey: "escrow.project.accepted", Body: []byte(`{"project":"P"}`)})
	require.ErrorIs(t, err, ErrMissingEventID)

	assert.Zero(t, logs.FilterMessage("Escrow event").Len())
}

func TestAuditUnknownRoutingKey(t *testing.T) {
	h, logs := newAuditHandler(t)
	body := []byte(`{"event_id":"e-1","extra":true}`)

	require.NoError(t, h.Handle(context.Background(), mq.Delivery{RoutingKey: "escrow.other", Body: body}))
	entries := logs.FilterMessage("Escrow event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, string(body), entries[0].ContextMap()["payload"])
}
