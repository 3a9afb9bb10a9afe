// Copyright (c) Roby Authors
// SPDX-License-Identifier: MPL-2.0

package plan

import (
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/rock-core/roby-go/task"
)

// Transaction batches a set of task registrations and mission/permanent
// changes so they are applied together by Commit, or not at all after
// Discard (spec.md §4.2 "merge transaction"). Commit does not roll back:
// registrations that succeed stay applied when another fails. It is not a
// snapshot or a nested Plan: it simply defers
// Plan mutation until Commit, collecting structural errors along the way.
type Transaction struct {
	ID        string
	plan      *Plan
	newTasks  []*task.Task
	missions  []*task.Task
	permanent []*task.Task
	committed bool
}

// NewTransaction opens a transaction against p, tagged with a fresh
// random ID so concurrent transactions are distinguishable in log lines
// (spec.md §6's logging sink interprets one event per call, so Commit
// logs ID alongside "transaction_committed" rather than relying on
// pointer identity).
func (p *Plan) NewTransaction() *Transaction {
	tx := &Transaction{ID: uuid.NewString(), plan: p}
	p.transactions = append(p.transactions, tx)
	return tx
}

// RegisterTask stages t for registration on Commit.
func (tx *Transaction) RegisterTask(t *task.Task) { tx.newTasks = append(tx.newTasks, t) }

// AddMission stages t to become a mission on Commit.
func (tx *Transaction) AddMission(t *task.Task) { tx.missions = append(tx.missions, t) }

// AddPermanent stages t to become permanent on Commit.
func (tx *Transaction) AddPermanent(t *task.Task) { tx.permanent = append(tx.permanent, t) }

// Commit applies every staged change to the underlying Plan. On any
// registration failure, already-applied registrations in this call are
// left in place (spec.md doesn't require rollback-on-partial-failure for
// merge_transaction, only that structural errors are aggregated and
// reported together) and every error is returned as a *multierror.Error.
func (tx *Transaction) Commit() error {
	if tx.committed {
		return nil
	}
	tx.committed = true

	var errs *multierror.Error
	for _, t := range tx.newTasks {
		if err := tx.plan.RegisterTask(t); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, t := range tx.missions {
		tx.plan.AddMission(t)
	}
	for _, t := range tx.permanent {
		tx.plan.AddPermanent(t)
	}
	tx.plan.sink.Log("transaction_committed", "id", tx.ID, "tasks", len(tx.newTasks))
	return errs.ErrorOrNil()
}

// Discard abandons the transaction without applying any staged change.
func (tx *Transaction) Discard() { tx.committed = true }
