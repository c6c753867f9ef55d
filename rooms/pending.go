package rooms

import (
	"fmt"
	"strings"

	"github.com/tcriess/walkingbuddy/normalize"
	"github.com/tcriess/walkingbuddy/types"
)

// Policy decides what happens to a tentative mutation when the server rejects it.
type Policy string

const (
	// PolicyKeep keeps the tentative state and only notifies the user.
	PolicyKeep Policy = "keep"
	// PolicyRollback restores the state from before the mutation, then notifies the user.
	PolicyRollback Policy = "rollback"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyKeep:
		return PolicyKeep, nil
	case PolicyRollback:
		return PolicyRollback, nil
	}
	return "", fmt.Errorf("unknown failure policy %q", s)
}

// Pending is a tentative local mutation waiting for the server's answer. Exactly one of Confirm and Fail is
// expected to be called; further calls are ignored.
type Pending struct {
	r       *Reconciler
	op      Op
	roomId  string
	policy  Policy
	undo    func()
	settled bool
}

// begin applies a tentative mutation. apply runs with the state locked and returns the function that undoes it,
// nil for mutations that are never rolled back.
func (r *Reconciler) begin(op Op, roomId string, policy Policy, apply func() (undo func())) *Pending {
	p := &Pending{r: r, op: op, roomId: roomId, policy: policy}
	r.mutate(func() bool {
		p.undo = apply()
		return true
	})
	r.logger.Debug("tentative mutation applied", "op", op, "room", roomId)
	return p
}

// Confirm settles the mutation with the server's version of the room. A reply without a room id (nil, or a bare
// status envelope) leaves the state as it is.
func (p *Pending) Confirm(raw types.Record) {
	if p.settled {
		return
	}
	p.settled = true
	if !normalize.HasId(raw) {
		if len(raw) > 0 {
			p.r.logger.Debug("server reply carries no room", "op", p.op, "room", p.roomId, "reply", raw)
		}
		return
	}
	p.r.Upsert(raw)
}

// Fail settles the mutation according to its policy, notifies the view and returns the advisory.
func (p *Pending) Fail(err error) error {
	adv := newAdvisory(p.op, p.roomId, err)
	if p.settled {
		return adv
	}
	p.settled = true
	if p.policy == PolicyRollback && p.undo != nil {
		p.r.mutate(func() bool {
			p.undo()
			return true
		})
		adv.RolledBack = true
	}
	p.r.logger.Warn("server rejected mutation", "op", p.op, "room", p.roomId, "rolled_back", adv.RolledBack, "error", err)
	p.r.view.Notify(*adv)
	return adv
}
