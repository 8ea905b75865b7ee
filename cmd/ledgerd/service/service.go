package service

import (
	"context"
	"errors"
	"fmt"

	golog "github.com/ipfs/go-log/v2"
	"github.com/textileio/tender-core/cmd/ledgerd/service/store"
	"github.com/textileio/tender-core/dshelper/txndswrap"
	"github.com/textileio/tender-core/ledger"
	"github.com/textileio/tender-core/metrics"
	"github.com/textileio/tender-core/msgbroker"
	"go.opentelemetry.io/otel/metric"
)

var log = golog.Logger("ledgerd/service")

// registryCaller identifies the external project registry in audit events.
const registryCaller = "registry"

// Config defines params for Service configuration.
type Config struct {
	// Admin seeds the ledger's access-control state on first boot. On
	// restart the persisted admin wins.
	Admin string
}

// Service applies the ordered operation stream to the bid ledger. Commands
// arrive from the message broker already authenticated and already ordered;
// each successful mutation is reported to the audit-event topic. Terminal
// validation failures are acked and never retried; infrastructure failures
// are nacked for redelivery.
type Service struct {
	mb    msgbroker.MsgBroker
	store *store.Store

	metricProjects  metric.Int64Counter
	metricSubmits   metric.Int64Counter
	metricReveals   metric.Int64Counter
	metricWithdraws metric.Int64Counter
	metricControl   metric.Int64Counter
}

var (
	_ msgbroker.RegisterProjectListener = (*Service)(nil)
	_ msgbroker.SubmitBidListener       = (*Service)(nil)
	_ msgbroker.RevealBidListener       = (*Service)(nil)
	_ msgbroker.WithdrawBidListener     = (*Service)(nil)
	_ msgbroker.SetPausedListener       = (*Service)(nil)
	_ msgbroker.TransferAdminListener   = (*Service)(nil)
)

// New returns a new Service wired to the given broker and datastore.
func New(mb msgbroker.MsgBroker, dstore txndswrap.TxnDatastore, conf Config) (*Service, error) {
	if conf.Admin == "" {
		return nil, errors.New("admin is empty")
	}

	ctx := context.Background()
	ledgerStore, err := store.NewStore(ctx, dstore, ledger.BidderID(conf.Admin))
	if err != nil {
		return nil, fmt.Errorf("creating store: %v", err)
	}

	s := &Service{
		mb:    mb,
		store: ledgerStore,
	}
	s.initMetrics()

	if err := msgbroker.RegisterHandlers(mb, s); err != nil {
		return nil, fmt.Errorf("registering msgbroker handlers: %v", err)
	}

	log.Info("service started")
	return s, nil
}

// Close the service.
func (s *Service) Close() error {
	log.Info("service was shutdown")
	return nil
}

// OnRegisterProject handles register-project commands from the project
// registry collaborator.
func (s *Service) OnRegisterProject(
	ctx context.Context,
	opID msgbroker.OperationID,
	id ledger.ProjectID,
	height uint64) error {
	log.Debugf("%s registering project %s", opID, id)
	err := s.store.CreateProject(ctx, id)
	return s.finish(ctx, "register-project", string(id), registryCaller, height, s.metricProjects, err)
}

// OnSubmitBid handles submit-bid commands.
func (s *Service) OnSubmitBid(
	ctx context.Context,
	opID msgbroker.OperationID,
	id ledger.ProjectID,
	bidder ledger.BidderID,
	commitment []byte,
	height uint64) error {
	log.Debugf("%s submitting bid to %s by %s", opID, id, bidder)
	err := s.store.SubmitBid(ctx, id, bidder, commitment, height)
	return s.finish(ctx, "submit-bid", string(id), string(bidder), height, s.metricSubmits, err)
}

// OnRevealBid handles reveal-bid commands.
func (s *Service) OnRevealBid(
	ctx context.Context,
	opID msgbroker.OperationID,
	id ledger.ProjectID,
	bidder ledger.BidderID,
	amount uint64,
	description string,
	commitment []byte,
	height uint64) error {
	log.Debugf("%s revealing bid in %s by %s", opID, id, bidder)
	err := s.store.RevealBid(ctx, id, bidder, amount, description, commitment, height)
	return s.finish(ctx, "reveal-bid", string(id), string(bidder), height, s.metricReveals, err)
}

// OnWithdrawBid handles withdraw-bid commands.
func (s *Service) OnWithdrawBid(
	ctx context.Context,
	opID msgbroker.OperationID,
	id ledger.ProjectID,
	bidder ledger.BidderID,
	height uint64) error {
	log.Debugf("%s withdrawing bid from %s by %s", opID, id, bidder)
	err := s.store.WithdrawBid(ctx, id, bidder)
	return s.finish(ctx, "withdraw-bid", string(id), string(bidder), height, s.metricWithdraws, err)
}

// OnSetPaused handles pause/unpause commands.
func (s *Service) OnSetPaused(
	ctx context.Context,
	opID msgbroker.OperationID,
	caller ledger.BidderID,
	paused bool,
	height uint64) error {
	op := "unpause"
	var err error
	if paused {
		op = "pause"
		err = s.store.Pause(ctx, caller)
	} else {
		err = s.store.Unpause(ctx, caller)
	}
	log.Debugf("%s %s by %s", opID, op, caller)
	return s.finish(ctx, op, "", string(caller), height, s.metricControl, err)
}

// OnTransferAdmin handles transfer-admin commands.
func (s *Service) OnTransferAdmin(
	ctx context.Context,
	opID msgbroker.OperationID,
	caller, newAdmin ledger.BidderID,
	height uint64) error {
	log.Debugf("%s transferring adminship from %s to %s", opID, caller, newAdmin)
	err := s.store.SetAdmin(ctx, caller, newAdmin)
	return s.finish(ctx, "transfer-admin", "", string(caller), height, s.metricControl, err)
}

// GetBid returns the full bid record for (project, bidder).
func (s *Service) GetBid(ctx context.Context, id ledger.ProjectID, bidder ledger.BidderID) (*ledger.BidRecord, error) {
	return s.store.GetBid(ctx, id, bidder)
}

// ListProjectBids returns the project's bid headers in insertion order.
func (s *Service) ListProjectBids(ctx context.Context, id ledger.ProjectID) ([]ledger.BidHeader, error) {
	return s.store.ListProjectBids(ctx, id)
}

// ListProjects returns all registered project ids.
func (s *Service) ListProjects(ctx context.Context) ([]ledger.ProjectID, error) {
	return s.store.ListProjects(ctx)
}

// IsPaused reports whether the ledger is globally halted.
func (s *Service) IsPaused(ctx context.Context) (bool, error) {
	return s.store.IsPaused(ctx)
}

// Admin returns the current admin identity.
func (s *Service) Admin(ctx context.Context) (ledger.BidderID, error) {
	return s.store.Admin(ctx)
}

// finish records the operation metric and resolves how the message is
// settled: successes are audited and acked, validation failures are acked
// without an audit record, and infrastructure errors are propagated so the
// broker redelivers the message.
func (s *Service) finish(
	ctx context.Context,
	op, projectID, caller string,
	height uint64,
	counter metric.Int64Counter,
	err error) error {
	metrics.MetricIncrCounter(ctx, err, counter)
	if err == nil {
		s.publishAudit(ctx, op, projectID, caller, height)
		return nil
	}
	if ledger.IsValidation(err) {
		log.Infof("%s rejected: %v", op, err)
		return nil
	}
	return fmt.Errorf("applying %s: %v", op, err)
}

// publishAudit reports a successful mutation to the external audit log.
// Fire-and-forget: a publish failure is logged and never propagated.
func (s *Service) publishAudit(ctx context.Context, op, projectID, caller string, height uint64) {
	event := msgbroker.AuditEvent{
		Operation: op,
		ProjectID: projectID,
		Caller:    caller,
		Height:    height,
		Outcome:   "ok",
	}
	if err := msgbroker.PublishMsgAuditEvent(ctx, s.mb, event); err != nil {
		log.Errorf("publishing audit event for %s: %v", op, err)
	}
}
