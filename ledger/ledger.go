package ledger

import (
	"errors"
)

const (
	// CommitmentSize is the exact byte length of a bid commitment.
	CommitmentSize = 32

	// MaxProjectBids caps the number of live bids a single project can hold.
	MaxProjectBids = 50

	// MaxDescriptionLen caps the revealed bid description length in characters.
	MaxDescriptionLen = 500
)

// ProjectID identifies a procurement project accepting sealed bids.
type ProjectID string

// BidderID is the canonical identity of a bidding party. Callers are
// authenticated by the surrounding system; the ledger trusts the identity
// it receives.
type BidderID string

// Bytes returns the canonical byte serialization of the identity, as bound
// into bid commitments.
func (b BidderID) Bytes() []byte {
	return []byte(b)
}

// BidHeader is the lightweight per-bid entry kept in a project's
// insertion-ordered bid list.
type BidHeader struct {
	Bidder      BidderID
	Commitment  []byte
	SubmittedAt uint64
}

// BidRecord is the full bid detail, keyed by (project, bidder).
// Until a successful reveal, Amount is zero, Description is empty and
// RevealedAt is zero. The commitment is immutable once set.
type BidRecord struct {
	Commitment  []byte
	Amount      uint64
	Description string
	Revealed    bool
	RevealedAt  uint64
}

// Ledger operations fail with exactly one of the following errors. All are
// terminal validation failures; none is retryable.
var (
	// ErrUnauthorized indicates the caller lacks the required privilege.
	ErrUnauthorized = errors.New("caller is not authorized")

	// ErrPaused indicates the ledger is globally halted.
	ErrPaused = errors.New("ledger is paused")

	// ErrProjectNotFound indicates the referenced project is unknown.
	ErrProjectNotFound = errors.New("project not found")

	// ErrProjectExists indicates the project was already registered.
	ErrProjectExists = errors.New("project already registered")

	// ErrAlreadySubmitted indicates the bidder already has a bid for the project.
	ErrAlreadySubmitted = errors.New("bid already submitted")

	// ErrAlreadyRevealed indicates the bid was already revealed.
	ErrAlreadyRevealed = errors.New("bid already revealed")

	// ErrAlreadyOpened indicates the bid entered the opened phase and can no
	// longer be withdrawn.
	ErrAlreadyOpened = errors.New("bid already opened")

	// ErrInvalidHash indicates a malformed commitment at submission.
	ErrInvalidHash = errors.New("invalid commitment hash")

	// ErrInvalidReveal indicates the revealed content does not match the
	// stored commitment, the commitment argument mismatches, or the
	// description is oversized.
	ErrInvalidReveal = errors.New("invalid reveal")

	// ErrBidNotFound indicates no bid exists for the given (project, bidder).
	ErrBidNotFound = errors.New("bid not found")

	// ErrBidsFull indicates the project's bid list is at capacity.
	ErrBidsFull = errors.New("project bid list is full")
)

var validationErrs = []error{
	ErrUnauthorized,
	ErrPaused,
	ErrProjectNotFound,
	ErrProjectExists,
	ErrAlreadySubmitted,
	ErrAlreadyRevealed,
	ErrAlreadyOpened,
	ErrInvalidHash,
	ErrInvalidReveal,
	ErrBidNotFound,
	ErrBidsFull,
}

// IsValidation reports whether err belongs to the ledger's terminal
// validation taxonomy. Such failures must not be retried; anything else is
// an infrastructure error.
func IsValidation(err error) bool {
	for _, e := range validationErrs {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
