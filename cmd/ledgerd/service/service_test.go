package service

import (
	"context"
	"testing"

	"github.com/fxamacker/cbor/v2"
	ds "github.com/ipfs/go-datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textileio/tender-core/dshelper/txndswrap"
	"github.com/textileio/tender-core/ledger"
	"github.com/textileio/tender-core/msgbroker"
	"github.com/textileio/tender-core/msgbroker/fakemsgbroker"
)

func newService(t *testing.T) (*Service, *fakemsgbroker.FakeMsgBroker) {
	fmb := fakemsgbroker.New()
	s, err := New(fmb, txndswrap.Wrap(ds.NewMapDatastore()), Config{Admin: "admin"})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s, fmb
}

// publishAndDeliver round-trips a command through the fake broker: the
// payload the publisher produced is handed to the registered handler.
func publishAndDeliver(t *testing.T, fmb *fakemsgbroker.FakeMsgBroker, topic msgbroker.TopicName, idx int) error {
	data, err := fmb.GetMsg(string(topic), idx)
	require.NoError(t, err)
	return fmb.Deliver(context.Background(), topic, data)
}

func TestService_BidLifecycle(t *testing.T) {
	t.Parallel()
	s, fmb := newService(t)
	ctx := context.Background()

	id := ledger.ProjectID("p1")
	bidder := ledger.BidderID("acme")
	amount := uint64(2500)
	description := "fiber upgrade"
	commitment := ledger.ComputeCommitment(amount, description, bidder)

	require.NoError(t, msgbroker.PublishMsgRegisterProject(ctx, fmb, id, 1))
	require.NoError(t, publishAndDeliver(t, fmb, msgbroker.RegisterProjectTopic, 0))

	require.NoError(t, msgbroker.PublishMsgSubmitBid(ctx, fmb, id, bidder, commitment, 2))
	require.NoError(t, publishAndDeliver(t, fmb, msgbroker.SubmitBidTopic, 0))

	require.NoError(t, msgbroker.PublishMsgRevealBid(ctx, fmb, id, bidder, amount, description, commitment, 3))
	require.NoError(t, publishAndDeliver(t, fmb, msgbroker.RevealBidTopic, 0))

	rec, err := s.GetBid(ctx, id, bidder)
	require.NoError(t, err)
	assert.True(t, rec.Revealed)
	assert.Equal(t, amount, rec.Amount)
	assert.Equal(t, description, rec.Description)

	// one audit event per successful mutation
	require.Equal(t, 3, fmb.TotalPublishedTopic(string(msgbroker.AuditEventTopic)))
	data, err := fmb.GetMsg(string(msgbroker.AuditEventTopic), 2)
	require.NoError(t, err)
	var event msgbroker.AuditEvent
	require.NoError(t, cbor.Unmarshal(data, &event))
	assert.Equal(t, "reveal-bid", event.Operation)
	assert.Equal(t, string(id), event.ProjectID)
	assert.Equal(t, string(bidder), event.Caller)
	assert.Equal(t, uint64(3), event.Height)
	assert.Equal(t, "ok", event.Outcome)
}

func TestService_ValidationFailuresAreAcked(t *testing.T) {
	t.Parallel()
	s, fmb := newService(t)
	ctx := context.Background()

	bidder := ledger.BidderID("acme")
	commitment := ledger.ComputeCommitment(1, "offer", bidder)

	// unknown project is terminal; the handler acks and no audit event fires
	require.NoError(t, msgbroker.PublishMsgSubmitBid(ctx, fmb, "unknown", bidder, commitment, 1))
	require.NoError(t, publishAndDeliver(t, fmb, msgbroker.SubmitBidTopic, 0))
	assert.Equal(t, 0, fmb.TotalPublishedTopic(string(msgbroker.AuditEventTopic)))

	_, err := s.GetBid(ctx, "unknown", bidder)
	require.ErrorIs(t, err, ledger.ErrBidNotFound)
}

func TestService_MalformedPayloadIsNacked(t *testing.T) {
	t.Parallel()
	_, fmb := newService(t)
	ctx := context.Background()

	err := fmb.Deliver(ctx, msgbroker.SubmitBidTopic, []byte("not cbor"))
	require.Error(t, err)

	// structurally valid but semantically empty messages are rejected too
	data, err := cbor.Marshal(&msgbroker.SubmitBidMsg{OperationID: "op-1"})
	require.NoError(t, err)
	err = fmb.Deliver(ctx, msgbroker.SubmitBidTopic, data)
	require.Error(t, err)
}

func TestService_AdminControls(t *testing.T) {
	t.Parallel()
	s, fmb := newService(t)
	ctx := context.Background()

	require.NoError(t, msgbroker.PublishMsgSetPaused(ctx, fmb, "admin", true, 1))
	require.NoError(t, publishAndDeliver(t, fmb, msgbroker.SetPausedTopic, 0))
	paused, err := s.IsPaused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, msgbroker.PublishMsgSetPaused(ctx, fmb, "admin", false, 2))
	require.NoError(t, publishAndDeliver(t, fmb, msgbroker.SetPausedTopic, 1))

	require.NoError(t, msgbroker.PublishMsgTransferAdmin(ctx, fmb, "admin", "successor", 3))
	require.NoError(t, publishAndDeliver(t, fmb, msgbroker.TransferAdminTopic, 0))
	admin, err := s.Admin(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.BidderID("successor"), admin)

	// pause, unpause and transfer were all audited
	assert.Equal(t, 3, fmb.TotalPublishedTopic(string(msgbroker.AuditEventTopic)))
	data, err := fmb.GetMsg(string(msgbroker.AuditEventTopic), 0)
	require.NoError(t, err)
	var event msgbroker.AuditEvent
	require.NoError(t, cbor.Unmarshal(data, &event))
	assert.Equal(t, "pause", event.Operation)
	assert.Equal(t, "admin", event.Caller)
}

func TestService_RequiresAdmin(t *testing.T) {
	t.Parallel()
	_, err := New(fakemsgbroker.New(), txndswrap.Wrap(ds.NewMapDatastore()), Config{})
	require.Error(t, err)
}
