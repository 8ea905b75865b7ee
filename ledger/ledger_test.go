package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidation(t *testing.T) {
	t.Parallel()
	assert.True(t, IsValidation(ErrPaused))
	assert.True(t, IsValidation(ErrUnauthorized))
	assert.True(t, IsValidation(fmt.Errorf("applying submit-bid: %w", ErrBidsFull)))
	assert.False(t, IsValidation(errors.New("datastore unavailable")))
	assert.False(t, IsValidation(nil))
}
