// Package nonce hands out account sequence numbers for a single deployment run.
//
// The node is read exactly once and later numbers come from the local counter.
// The caller must be the only sender for the account while a run lasts.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"incubant/go-deployer/internal/stacks"
)

var ErrAddressRequired = errors.New("account address is required")

type AccountReader interface {
	AccountState(ctx context.Context, address string) (stacks.AccountState, error)
}

type Tracker struct {
	base uint64
	next uint64
}

// Init performs the single network read of the run.
func Init(ctx context.Context, reader AccountReader, address string) (*Tracker, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrAddressRequired
	}
	state, err := reader.AccountState(ctx, address)
	if err != nil {
		if errors.Is(err, stacks.ErrNetworkUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", stacks.ErrNetworkUnavailable, err)
	}
	return &Tracker{base: state.Nonce, next: state.Nonce}, nil
}

// Base is the nonce the node reported at Init.
func (t *Tracker) Base() uint64 {
	return t.base
}

// Next returns the nonce for the next submission without consuming it.
func (t *Tracker) Next() uint64 {
	return t.next
}

// Advance consumes the current nonce. Call it only after the node accepted
// the transaction that used it.
func (t *Tracker) Advance() {
	t.next++
}

// Used reports how many nonces the run consumed.
func (t *Tracker) Used() uint64 {
	return t.next - t.base
}
