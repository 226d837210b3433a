package transfer

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/relicmarket/settlement/pkg/errors"
)

// Proxy is an allowance-gated transfer proxy. Token transfers only go
// through when the calling engine address is on the proxy's operator
// allow-list; the list itself is mutable only by the proxy owner.
//
// The allow-list is an explicit capability set, not an ambient flag:
// callers are added and removed one by one and the set is inspectable.
type Proxy struct {
	address   common.Address
	owner     common.Address
	operators map[common.Address]bool
}

// NewProxy creates a proxy identified by address and administered by owner.
func NewProxy(address, owner common.Address) *Proxy {
	return &Proxy{
		address:   address,
		owner:     owner,
		operators: make(map[common.Address]bool),
	}
}

// Address returns the proxy's own identity, the address token holders
// grant allowance to.
func (p *Proxy) Address() common.Address {
	return p.address
}

// AddOperator allow-lists an operator. Only the owner may call.
func (p *Proxy) AddOperator(caller, operator common.Address) error {
	if caller != p.owner {
		return errors.ErrNotAuthorized.WithDetail("only the proxy owner can add operators")
	}
	p.operators[operator] = true
	return nil
}

// RemoveOperator removes an operator from the allow-list. Only the
// owner may call. Removing an unknown operator is a no-op.
func (p *Proxy) RemoveOperator(caller, operator common.Address) error {
	if caller != p.owner {
		return errors.ErrNotAuthorized.WithDetail("only the proxy owner can remove operators")
	}
	delete(p.operators, operator)
	return nil
}

// IsOperator reports whether addr is allow-listed.
func (p *Proxy) IsOperator(addr common.Address) bool {
	return p.operators[addr]
}

// Operators returns a copy of the allow-list for inspection.
func (p *Proxy) Operators() []common.Address {
	out := make([]common.Address, 0, len(p.operators))
	for op := range p.operators {
		out = append(out, op)
	}
	return out
}
