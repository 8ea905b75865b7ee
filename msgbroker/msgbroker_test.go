package msgbroker_test

import (
	"context"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textileio/tender-core/ledger"
	mbroker "github.com/textileio/tender-core/msgbroker"
	"github.com/textileio/tender-core/msgbroker/fakemsgbroker"
)

type auditRecorder struct {
	events []mbroker.AuditEvent
}

func (r *auditRecorder) OnAuditEvent(_ context.Context, event mbroker.AuditEvent) error {
	r.events = append(r.events, event)
	return nil
}

func TestRegisterHandlers(t *testing.T) {
	t.Parallel()
	fmb := fakemsgbroker.New()

	// a type implementing no listener interface can't be wired
	err := mbroker.RegisterHandlers(fmb, struct{}{})
	require.Error(t, err)

	recorder := &auditRecorder{}
	require.NoError(t, mbroker.RegisterHandlers(fmb, recorder))

	event := mbroker.AuditEvent{
		Operation: "submit-bid",
		ProjectID: "p1",
		Caller:    "acme",
		Height:    3,
		Outcome:   "ok",
	}
	require.NoError(t, mbroker.PublishMsgAuditEvent(context.Background(), fmb, event))
	data, err := fmb.GetMsg(string(mbroker.AuditEventTopic), 0)
	require.NoError(t, err)
	require.NoError(t, fmb.Deliver(context.Background(), mbroker.AuditEventTopic, data))

	require.Len(t, recorder.events, 1)
	assert.Equal(t, event, recorder.events[0])
}

func TestHandlersRejectEmptyFields(t *testing.T) {
	t.Parallel()
	fmb := fakemsgbroker.New()
	recorder := &auditRecorder{}
	require.NoError(t, mbroker.RegisterHandlers(fmb, recorder))

	data, err := cbor.Marshal(&mbroker.AuditEvent{ProjectID: "p1"})
	require.NoError(t, err)
	err = fmb.Deliver(context.Background(), mbroker.AuditEventTopic, data)
	require.Error(t, err)
	assert.Empty(t, recorder.events)
}

func TestPublishersRejectEmptyFields(t *testing.T) {
	t.Parallel()
	fmb := fakemsgbroker.New()
	ctx := context.Background()

	commitment := ledger.ComputeCommitment(1, "x", "acme")
	require.Error(t, mbroker.PublishMsgRegisterProject(ctx, fmb, "", 1))
	require.Error(t, mbroker.PublishMsgSubmitBid(ctx, fmb, "", "acme", commitment, 1))
	require.Error(t, mbroker.PublishMsgSubmitBid(ctx, fmb, "p1", "", commitment, 1))
	require.Error(t, mbroker.PublishMsgSubmitBid(ctx, fmb, "p1", "acme", nil, 1))
	require.Error(t, mbroker.PublishMsgSetPaused(ctx, fmb, "", true, 1))
	require.Error(t, mbroker.PublishMsgTransferAdmin(ctx, fmb, "admin", "", 1))
	assert.Equal(t, 0, fmb.TotalPublished())
}
