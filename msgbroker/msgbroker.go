package msgbroker

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/textileio/tender-core/ledger"
)

// TopicHandler is a function that processes a received message.
// If no error is returned, the message will be automatically acked.
// If an error is returned, the message will be automatically nacked.
type TopicHandler func(context.Context, []byte) error

// MsgBroker is a message-broker for async message communication.
type MsgBroker interface {
	// RegisterTopicHandler registers a handler to a topic, with a
	// subscription defined by the underlying implementation. It is highly
	// recommended to register handlers in a type-safe way using
	// RegisterHandlers().
	RegisterTopicHandler(topic TopicName, handler TopicHandler, opts ...Option) error

	// PublishMsg publishes a message to the desired topic.
	PublishMsg(ctx context.Context, topicName TopicName, data []byte) error
}

// TopicName is a topic name.
type TopicName string

const (
	// RegisterProjectTopic carries project seeding commands from the
	// external project registry.
	RegisterProjectTopic TopicName = "register-project"
	// SubmitBidTopic carries sealed bid submissions.
	SubmitBidTopic = "submit-bid"
	// RevealBidTopic carries bid reveals.
	RevealBidTopic = "reveal-bid"
	// WithdrawBidTopic carries bid withdrawals.
	WithdrawBidTopic = "withdraw-bid"
	// SetPausedTopic carries admin pause/unpause commands.
	SetPausedTopic = "set-paused"
	// TransferAdminTopic carries adminship transfers.
	TransferAdminTopic = "transfer-admin"
	// AuditEventTopic is where the ledger reports every successful mutation.
	AuditEventTopic = "audit-event"
)

// OperationID is a unique identifier for messages.
type OperationID string

// Command messages arrive on the topics above, already ordered and already
// authenticated by the surrounding execution environment. Height is the
// sequencer's logical clock at the time the operation was admitted.

// RegisterProjectMsg seeds a project into the ledger's registry table.
type RegisterProjectMsg struct {
	OperationID string
	ProjectID   string
	Height      uint64
}

// SubmitBidMsg submits a sealed bid commitment.
type SubmitBidMsg struct {
	OperationID string
	ProjectID   string
	Bidder      string
	Commitment  []byte
	Height      uint64
}

// RevealBidMsg discloses a bid's content for verification.
type RevealBidMsg struct {
	OperationID string
	ProjectID   string
	Bidder      string
	Amount      uint64
	Description string
	Commitment  []byte
	Height      uint64
}

// WithdrawBidMsg withdraws an unrevealed bid.
type WithdrawBidMsg struct {
	OperationID string
	ProjectID   string
	Bidder      string
	Height      uint64
}

// SetPausedMsg flips the ledger kill-switch.
type SetPausedMsg struct {
	OperationID string
	Caller      string
	Paused      bool
	Height      uint64
}

// TransferAdminMsg transfers ledger adminship.
type TransferAdminMsg struct {
	OperationID string
	Caller      string
	NewAdmin    string
	Height      uint64
}

// AuditEvent is the immutable record emitted after every successful
// mutation, consumed by the external append-only audit log.
type AuditEvent struct {
	Operation string
	ProjectID string
	Caller    string
	Height    uint64
	Outcome   string
}

// RegisterProjectListener is a handler for the register-project topic.
type RegisterProjectListener interface {
	OnRegisterProject(ctx context.Context, opID OperationID, id ledger.ProjectID, height uint64) error
}

// SubmitBidListener is a handler for the submit-bid topic.
type SubmitBidListener interface {
	OnSubmitBid(
		ctx context.Context,
		opID OperationID,
		id ledger.ProjectID,
		bidder ledger.BidderID,
		commitment []byte,
		height uint64) error
}

// RevealBidListener is a handler for the reveal-bid topic.
type RevealBidListener interface {
	OnRevealBid(
		ctx context.Context,
		opID OperationID,
		id ledger.ProjectID,
		bidder ledger.BidderID,
		amount uint64,
		description string,
		commitment []byte,
		height uint64) error
}

// WithdrawBidListener is a handler for the withdraw-bid topic.
type WithdrawBidListener interface {
	OnWithdrawBid(
		ctx context.Context,
		opID OperationID,
		id ledger.ProjectID,
		bidder ledger.BidderID,
		height uint64) error
}

// SetPausedListener is a handler for the set-paused topic.
type SetPausedListener interface {
	OnSetPaused(ctx context.Context, opID OperationID, caller ledger.BidderID, paused bool, height uint64) error
}

// TransferAdminListener is a handler for the transfer-admin topic.
type TransferAdminListener interface {
	OnTransferAdmin(ctx context.Context, opID OperationID, caller, newAdmin ledger.BidderID, height uint64) error
}

// AuditEventListener is a handler for the audit-event topic.
type AuditEventListener interface {
	OnAuditEvent(ctx context.Context, event AuditEvent) error
}

// RegisterHandlers automatically calls mb.RegisterTopicHandler for every
// known XXXListener interface that s satisfies. This allows wiring s to
// receive messages from the topics of implemented handlers.
func RegisterHandlers(mb MsgBroker, s interface{}, opts ...Option) error {
	var countRegistered int
	if l, ok := s.(RegisterProjectListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(RegisterProjectTopic, func(ctx context.Context, data []byte) error {
			r := &RegisterProjectMsg{}
			if err := cbor.Unmarshal(data, r); err != nil {
				return fmt.Errorf("unmarshal register-project: %s", err)
			}
			if r.OperationID == "" {
				return errors.New("operation id is empty")
			}
			if r.ProjectID == "" {
				return errors.New("project id is empty")
			}
			if err := l.OnRegisterProject(
				ctx,
				OperationID(r.OperationID),
				ledger.ProjectID(r.ProjectID),
				r.Height); err != nil {
				return fmt.Errorf("calling register-project handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for register-project topic: %s", err)
		}
	}

	if l, ok := s.(SubmitBidListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(SubmitBidTopic, func(ctx context.Context, data []byte) error {
			r := &SubmitBidMsg{}
			if err := cbor.Unmarshal(data, r); err != nil {
				return fmt.Errorf("unmarshal submit-bid: %s", err)
			}
			if r.OperationID == "" {
				return errors.New("operation id is empty")
			}
			if r.ProjectID == "" {
				return errors.New("project id is empty")
			}
			if r.Bidder == "" {
				return errors.New("bidder is empty")
			}
			if len(r.Commitment) == 0 {
				return errors.New("commitment is empty")
			}
			if err := l.OnSubmitBid(
				ctx,
				OperationID(r.OperationID),
				ledger.ProjectID(r.ProjectID),
				ledger.BidderID(r.Bidder),
				r.Commitment,
				r.Height); err != nil {
				return fmt.Errorf("calling submit-bid handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for submit-bid topic: %s", err)
		}
	}

	if l, ok := s.(RevealBidListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(RevealBidTopic, func(ctx context.Context, data []byte) error {
			r := &RevealBidMsg{}
			if err := cbor.Unmarshal(data, r); err != nil {
				return fmt.Errorf("unmarshal reveal-bid: %s", err)
			}
			if r.OperationID == "" {
				return errors.New("operation id is empty")
			}
			if r.ProjectID == "" {
				return errors.New("project id is empty")
			}
			if r.Bidder == "" {
				return errors.New("bidder is empty")
			}
			if len(r.Commitment) == 0 {
				return errors.New("commitment is empty")
			}
			if err := l.OnRevealBid(
				ctx,
				OperationID(r.OperationID),
				ledger.ProjectID(r.ProjectID),
				ledger.BidderID(r.Bidder),
				r.Amount,
				r.Description,
				r.Commitment,
				r.Height); err != nil {
				return fmt.Errorf("calling reveal-bid handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for reveal-bid topic: %s", err)
		}
	}

	if l, ok := s.(WithdrawBidListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(WithdrawBidTopic, func(ctx context.Context, data []byte) error {
			r := &WithdrawBidMsg{}
			if err := cbor.Unmarshal(data, r); err != nil {
				return fmt.Errorf("unmarshal withdraw-bid: %s", err)
			}
			if r.OperationID == "" {
				return errors.New("operation id is empty")
			}
			if r.ProjectID == "" {
				return errors.New("project id is empty")
			}
			if r.Bidder == "" {
				return errors.New("bidder is empty")
			}
			if err := l.OnWithdrawBid(
				ctx,
				OperationID(r.OperationID),
				ledger.ProjectID(r.ProjectID),
				ledger.BidderID(r.Bidder),
				r.Height); err != nil {
				return fmt.Errorf("calling withdraw-bid handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for withdraw-bid topic: %s", err)
		}
	}

	if l, ok := s.(SetPausedListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(SetPausedTopic, func(ctx context.Context, data []byte) error {
			r := &SetPausedMsg{}
			if err := cbor.Unmarshal(data, r); err != nil {
				return fmt.Errorf("unmarshal set-paused: %s", err)
			}
			if r.OperationID == "" {
				return errors.New("operation id is empty")
			}
			if r.Caller == "" {
				return errors.New("caller is empty")
			}
			if err := l.OnSetPaused(
				ctx,
				OperationID(r.OperationID),
				ledger.BidderID(r.Caller),
				r.Paused,
				r.Height); err != nil {
				return fmt.Errorf("calling set-paused handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for set-paused topic: %s", err)
		}
	}

	if l, ok := s.(TransferAdminListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(TransferAdminTopic, func(ctx context.Context, data []byte) error {
			r := &TransferAdminMsg{}
			if err := cbor.Unmarshal(data, r); err != nil {
				return fmt.Errorf("unmarshal transfer-admin: %s", err)
			}
			if r.OperationID == "" {
				return errors.New("operation id is empty")
			}
			if r.Caller == "" {
				return errors.New("caller is empty")
			}
			if r.NewAdmin == "" {
				return errors.New("new admin is empty")
			}
			if err := l.OnTransferAdmin(
				ctx,
				OperationID(r.OperationID),
				ledger.BidderID(r.Caller),
				ledger.BidderID(r.NewAdmin),
				r.Height); err != nil {
				return fmt.Errorf("calling transfer-admin handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for transfer-admin topic: %s", err)
		}
	}

	if l, ok := s.(AuditEventListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(AuditEventTopic, func(ctx context.Context, data []byte) error {
			r := &AuditEvent{}
			if err := cbor.Unmarshal(data, r); err != nil {
				return fmt.Errorf("unmarshal audit-event: %s", err)
			}
			if r.Operation == "" {
				return errors.New("operation is empty")
			}
			if err := l.OnAuditEvent(ctx, *r); err != nil {
				return fmt.Errorf("calling audit-event handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for audit-event topic: %s", err)
		}
	}

	if countRegistered == 0 {
		return errors.New("no handlers were registered")
	}

	return nil
}

// PublishMsgRegisterProject publishes a message to the register-project topic.
func PublishMsgRegisterProject(ctx context.Context, mb MsgBroker, id ledger.ProjectID, height uint64) error {
	if id == "" {
		return errors.New("project id is empty")
	}
	msg := &RegisterProjectMsg{
		OperationID: uuid.New().String(),
		ProjectID:   string(id),
		Height:      height,
	}
	return marshalAndPublish(ctx, mb, RegisterProjectTopic, msg)
}

// PublishMsgSubmitBid publishes a message to the submit-bid topic.
func PublishMsgSubmitBid(
	ctx context.Context,
	mb MsgBroker,
	id ledger.ProjectID,
	bidder ledger.BidderID,
	commitment []byte,
	height uint64) error {
	if id == "" {
		return errors.New("project id is empty")
	}
	if bidder == "" {
		return errors.New("bidder is empty")
	}
	if len(commitment) == 0 {
		return errors.New("commitment is empty")
	}
	msg := &SubmitBidMsg{
		OperationID: uuid.New().String(),
		ProjectID:   string(id),
		Bidder:      string(bidder),
		Commitment:  commitment,
		Height:      height,
	}
	return marshalAndPublish(ctx, mb, SubmitBidTopic, msg)
}

// PublishMsgRevealBid publishes a message to the reveal-bid topic.
func PublishMsgRevealBid(
	ctx context.Context,
	mb MsgBroker,
	id ledger.ProjectID,
	bidder ledger.BidderID,
	amount uint64,
	description string,
	commitment []byte,
	height uint64) error {
	if id == "" {
		return errors.New("project id is empty")
	}
	if bidder == "" {
		return errors.New("bidder is empty")
	}
	if len(commitment) == 0 {
		return errors.New("commitment is empty")
	}
	msg := &RevealBidMsg{
		OperationID: uuid.New().String(),
		ProjectID:   string(id),
		Bidder:      string(bidder),
		Amount:      amount,
		Description: description,
		Commitment:  commitment,
		Height:      height,
	}
	return marshalAndPublish(ctx, mb, RevealBidTopic, msg)
}

// PublishMsgWithdrawBid publishes a message to the withdraw-bid topic.
func PublishMsgWithdrawBid(
	ctx context.Context,
	mb MsgBroker,
	id ledger.ProjectID,
	bidder ledger.BidderID,
	height uint64) error {
	if id == "" {
		return errors.New("project id is empty")
	}
	if bidder == "" {
		return errors.New("bidder is empty")
	}
	msg := &WithdrawBidMsg{
		OperationID: uuid.New().String(),
		ProjectID:   string(id),
		Bidder:      string(bidder),
		Height:      height,
	}
	return marshalAndPublish(ctx, mb, WithdrawBidTopic, msg)
}

// PublishMsgSetPaused publishes a message to the set-paused topic.
func PublishMsgSetPaused(
	ctx context.Context,
	mb MsgBroker,
	caller ledger.BidderID,
	paused bool,
	height uint64) error {
	if caller == "" {
		return errors.New("caller is empty")
	}
	msg := &SetPausedMsg{
		OperationID: uuid.New().String(),
		Caller:      string(caller),
		Paused:      paused,
		Height:      height,
	}
	return marshalAndPublish(ctx, mb, SetPausedTopic, msg)
}

// PublishMsgTransferAdmin publishes a message to the transfer-admin topic.
func PublishMsgTransferAdmin(
	ctx context.Context,
	mb MsgBroker,
	caller, newAdmin ledger.BidderID,
	height uint64) error {
	if caller == "" {
		return errors.New("caller is empty")
	}
	if newAdmin == "" {
		return errors.New("new admin is empty")
	}
	msg := &TransferAdminMsg{
		OperationID: uuid.New().String(),
		Caller:      string(caller),
		NewAdmin:    string(newAdmin),
		Height:      height,
	}
	return marshalAndPublish(ctx, mb, TransferAdminTopic, msg)
}

// PublishMsgAuditEvent publishes a message to the audit-event topic.
func PublishMsgAuditEvent(ctx context.Context, mb MsgBroker, event AuditEvent) error {
	if event.Operation == "" {
		return errors.New("operation is empty")
	}
	if event.Caller == "" {
		return errors.New("caller is empty")
	}
	if event.Outcome == "" {
		return errors.New("outcome is empty")
	}
	return marshalAndPublish(ctx, mb, AuditEventTopic, &event)
}

func marshalAndPublish(ctx context.Context, mb MsgBroker, topic TopicName, msg interface{}) error {
	data, err := cbor.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling %s message: %s", topic, err)
	}
	if err := mb.PublishMsg(ctx, topic, data); err != nil {
		return fmt.Errorf("publishing %s message: %s", topic, err)
	}
	return nil
}
