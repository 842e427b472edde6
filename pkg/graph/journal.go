package graph

// Journal records the in-memory effects of resolving one record: cache
// installs and edge-set additions. Rolling it back undoes them in reverse so
// the caches never point at nodes from an aborted transaction.
type Journal struct {
	undo []func()
}

func NewJournal() *Journal {
	return &Journal{}
}

func (j *Journal) record(fn func()) {
	if j == nil {
		return
	}
	j.undo = append(j.undo, fn)
}

// Len returns the number of pending undo steps.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	return len(j.undo)
}

// Commit forgets the recorded steps once the transaction is durable.
func (j *Journal) Commit() {
	if j == nil {
		return
	}
	j.undo = nil
}

// Rollback undoes every recorded step, newest first.
func (j *Journal) Rollback() {
	if j == nil {
		return
	}
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}
