package profile

import (
	"context"
	"sync"

	"mcpconsole-go/internal/storage"
)

// Activation is a handle on one activation run
type Activation struct {
	done chan struct{}

	mu     sync.Mutex
	record storage.ActivationRecord
}

func newActivation(record storage.ActivationRecord) *Activation {
	return &Activation{
		done:   make(chan struct{}),
		record: record,
	}
}

// ID returns the activation record id
func (a *Activation) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record.ID
}

// Done is closed once every member connection attempt has resolved
func (a *Activation) Done() <-chan struct{} {
	return a.done
}

// Record returns a copy of the activation record as it stands
func (a *Activation) Record() storage.ActivationRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return copyRecord(&a.record)
}

// Wait blocks until the activation finishes or ctx is done
func (a *Activation) Wait(ctx context.Context) (storage.ActivationRecord, error) {
	select {
	case <-a.done:
		return a.Record(), nil
	case <-ctx.Done():
		return a.Record(), ctx.Err()
	}
}

// update applies fn to the record and persists the result while still holding
// the lock, so saves land in the order updates were made.
func (a *Activation) update(store ActivationStore, fn func(rec *storage.ActivationRecord)) (storage.ActivationRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fn(&a.record)
	out := copyRecord(&a.record)
	if store == nil {
		return out, nil
	}
	return out, store.SaveActivation(&out)
}

func copyRecord(rec *storage.ActivationRecord) storage.ActivationRecord {
	out := *rec
	if rec.Errors != nil {
		out.Errors = append([]string(nil), rec.Errors...)
	}
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		out.CompletedAt = &t
	}
	if rec.DeactivatedAt != nil {
		t := *rec.DeactivatedAt
		out.DeactivatedAt = &t
	}
	return out
}
