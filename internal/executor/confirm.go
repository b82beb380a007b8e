package executor

import (
	"sync"

	"github.com/google/uuid"
)

// Confirmations mints one-shot confirmation tokens bound to a single
// plan instance. A token redeemed once is gone; a token issued for one
// plan never confirms another.
type Confirmations struct {
	mu     sync.Mutex
	tokens map[string]string // token -> plan ID
}

func NewConfirmations() *Confirmations {
	return &Confirmations{tokens: map[string]string{}}
}

// Issue returns a fresh token for planID, invalidating any token
// previously issued for the same plan.
func (c *Confirmations) Issue(planID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for tok, pid := range c.tokens {
		if pid == planID {
			delete(c.tokens, tok)
		}
	}
	tok := uuid.NewString()
	c.tokens[tok] = planID
	return tok
}

// Redeem consumes token if it matches planID. Returns false for an
// unknown, already-used, or mismatched token.
func (c *Confirmations) Redeem(planID, token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pid, ok := c.tokens[token]
	if !ok || pid != planID {
		return false
	}
	delete(c.tokens, token)
	return true
}
