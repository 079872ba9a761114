package schema

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"logparsely/internal/ddl"
	"logparsely/internal/storage"
)

// DefaultMaxColumns leaves headroom under SQLite's default limit of 2000
// columns per table for the metadata columns.
const DefaultMaxColumns = 1900

// ErrColumnLimit is the reason recorded for paths refused because the table
// reached Options.MaxColumns.
var ErrColumnLimit = errors.New("column limit reached")

// State is the lifecycle state of a column.
type State uint8

const (
	// StatePending columns are known to the registry but not yet committed
	// to the store.
	StatePending State = iota
	StateLive
	// StateRejected paths have no column for the rest of the process; their
	// values go to the overflow column.
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateLive:
		return "live"
	default:
		return "rejected"
	}
}

// Column is a snapshot of one registry entry.
type Column struct {
	Path  string   // logical (serialized path) name
	Name  string   // physical identifier; empty when rejected before creation
	Type  ddl.Type // declared type
	State State
	Seq   int // first-seen order, starting at 1

	widenTo ddl.Type // pending promotion of a live column; TypeNull when none
	noWiden bool     // a promotion failed; float values no longer fit
}

// effective is the type values should be written as.
func (c *Column) effective() ddl.Type {
	if c.widenTo != ddl.TypeNull {
		return c.widenTo
	}
	return c.Type
}

// Store tells the writer where a value goes.
type Store uint8

const (
	// StoreSkip writes nothing; the cell stays NULL.
	StoreSkip Store = iota
	// StoreNative writes the value into Column, converted to Type.
	StoreNative
	// StoreText writes the value's text form into Column.
	StoreText
	// StoreOverflow writes the value's text form into the overflow column
	// under its path name.
	StoreOverflow
)

// Resolution is the answer to Ensure.
type Resolution struct {
	Column string
	Type   ddl.Type
	Store  Store
}

// RejectedError describes a path that lost its column.
type RejectedError struct {
	Path string
	Err  error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("schema: path %q: %v", e.Path, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// Options tune a Registry.
type Options struct {
	// MaxColumns caps dynamic columns; 0 means DefaultMaxColumns and a
	// negative value means unlimited.
	MaxColumns int

	// OnReject is called once per path that is rejected, outside the
	// registry lock.
	OnReject func(*RejectedError)
}

// Registry maps logical paths to columns. All methods are safe for concurrent
// use; Ensure calls are serialized.
type Registry struct {
	mu      sync.Mutex
	d       storage.Dialect
	opt     Options
	cols    map[string]*Column  // by logical path
	taken   map[string]struct{} // folded physical names in use
	order   []*Column
	pending []*Column // adds and promotions awaiting Apply
	dynamic int       // pending + live columns
}

// NewRegistry returns an empty registry for dialect d.
func NewRegistry(d storage.Dialect, opt Options) *Registry {
	if opt.MaxColumns == 0 {
		opt.MaxColumns = DefaultMaxColumns
	}
	r := &Registry{
		d:     d,
		opt:   opt,
		cols:  make(map[string]*Column),
		taken: make(map[string]struct{}),
	}
	for _, name := range []string{storage.ColSeq, storage.ColLine, storage.ColIngestedAt, storage.ColRaw, storage.ColOverflow} {
		r.taken[d.Fold(name)] = struct{}{}
	}
	return r
}

// Rehydrate loads the columns already present in the store. The store is the
// source of truth; call Rehydrate once before the first Ensure.
func (r *Registry) Rehydrate(ctx context.Context, repo storage.Repository) error {
	infos, err := repo.Columns(ctx)
	if err != nil {
		return fmt.Errorf("schema: rehydrate: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ci := range infos {
		r.taken[r.d.Fold(ci.Name)] = struct{}{}
		if ci.Internal {
			continue
		}
		logical := ci.Logical
		if logical == "" {
			logical = LogicalName(ci.Name)
		}
		if _, dup := r.cols[logical]; dup {
			continue
		}
		r.add(&Column{Path: logical, Name: ci.Name, Type: ci.Type, State: StateLive})
	}
	return nil
}

func (r *Registry) add(c *Column) {
	c.Seq = len(r.order) + 1
	r.cols[c.Path] = c
	r.order = append(r.order, c)
	if c.State != StateRejected {
		r.dynamic++
	}
}

// Ensure registers an observation of path with type observed and reports
// where the value goes. It is idempotent: repeating a call changes nothing
// and returns the same answer until Apply or Commit move the column on.
//
// A null observation never creates a column.
func (r *Registry) Ensure(path string, observed ddl.Type) Resolution {
	r.mu.Lock()
	var rejected *RejectedError
	res := r.ensure(path, observed, &rejected)
	r.mu.Unlock()

	if rejected != nil && r.opt.OnReject != nil {
		r.opt.OnReject(rejected)
	}
	return res
}

func (r *Registry) ensure(path string, observed ddl.Type, rejected **RejectedError) Resolution {
	c := r.cols[path]
	if c == nil {
		if observed == ddl.TypeNull {
			return Resolution{Store: StoreSkip}
		}
		if r.opt.MaxColumns > 0 && r.dynamic >= r.opt.MaxColumns {
			r.add(&Column{Path: path, Type: observed, State: StateRejected})
			*rejected = &RejectedError{Path: path, Err: ErrColumnLimit}
		} else {
			c = &Column{Path: path, Name: r.physicalName(path), Type: observed, State: StatePending}
			r.taken[r.d.Fold(c.Name)] = struct{}{}
			r.add(c)
			r.pending = append(r.pending, c)
		}
		c = r.cols[path]
	}

	if observed == ddl.TypeNull {
		return Resolution{Column: c.Name, Type: c.Type, Store: StoreSkip}
	}
	if c.State == StateRejected {
		return Resolution{Store: StoreOverflow}
	}

	switch Reconcile(c.effective(), observed) {
	case Keep:
		return Resolution{Column: c.Name, Type: c.effective(), Store: StoreNative}

	case Widen:
		switch {
		case c.State == StatePending, !r.d.Strict():
			// Nothing on disk constrains the type yet, or the engine does
			// not care.
			c.Type = ddl.TypeFloat
			return Resolution{Column: c.Name, Type: c.Type, Store: StoreNative}
		case !c.noWiden:
			if c.widenTo == ddl.TypeNull {
				c.widenTo = ddl.TypeFloat
				r.pending = append(r.pending, c)
			}
			return Resolution{Column: c.Name, Type: c.widenTo, Store: StoreNative}
		}
	}

	if c.effective() == ddl.TypeString || !r.d.Strict() {
		return Resolution{Column: c.Name, Type: c.effective(), Store: StoreText}
	}
	return Resolution{Store: StoreOverflow}
}

// physicalName picks an unused identifier for logical.
func (r *Registry) physicalName(logical string) string {
	base := baseName(r.d, logical)
	limit := r.d.MaxIdentLen()
	name := fit(base, "", limit, logical)
	for attempt := 0; r.isTaken(name); attempt++ {
		name = fit(base, hashSuffix(logical, attempt), limit, logical)
	}
	return name
}

func (r *Registry) isTaken(name string) bool {
	_, ok := r.taken[r.d.Fold(name)]
	return ok
}

// Applied records the DDL one Apply issued, for Commit.
type Applied struct {
	added   []*Column
	widened []*Column
}

// Empty reports whether Apply issued no DDL.
func (a Applied) Empty() bool { return len(a.added) == 0 && len(a.widened) == 0 }

// Apply issues the DDL for pending columns and promotions inside tx. A failed
// ADD COLUMN rejects its path for the process lifetime; a failed promotion
// leaves the column as it is. Pending work stays pending until Commit, so a
// rolled-back tx is simply applied again next time.
//
// Apply returns an error only when ctx is done.
func (r *Registry) Apply(ctx context.Context, tx storage.Tx) (Applied, error) {
	var (
		a        Applied
		rejected []*RejectedError
	)
	r.mu.Lock()
	defer func() {
		r.mu.Unlock()
		if r.opt.OnReject != nil {
			for _, e := range rejected {
				r.opt.OnReject(e)
			}
		}
	}()

	// kept is a fresh slice: on an early return the unvisited entries are
	// appended to it, and sharing r.pending's array would duplicate them.
	kept := make([]*Column, 0, len(r.pending))
	stop := func(i int, err error) (Applied, error) {
		r.pending = append(kept, r.pending[i:]...)
		return a, err
	}
	for i, c := range r.pending {
		if err := ctx.Err(); err != nil {
			return stop(i, err)
		}
		if c.State == StatePending {
			err := tx.AddColumn(ctx, ddl.ColumnDef{Name: c.Name, Type: c.Type, Nullable: true, Comment: c.Path})
			if err != nil {
				if ctx.Err() != nil {
					return stop(i, ctx.Err())
				}
				delete(r.taken, r.d.Fold(c.Name))
				c.State, c.Name = StateRejected, ""
				r.dynamic--
				rejected = append(rejected, &RejectedError{Path: c.Path, Err: err})
				continue
			}
			a.added = append(a.added, c)
			kept = append(kept, c)
			continue
		}
		if c.widenTo != ddl.TypeNull {
			if err := tx.WidenColumn(ctx, c.Name, c.widenTo); err != nil {
				if ctx.Err() != nil {
					return stop(i, ctx.Err())
				}
				c.widenTo, c.noWiden = ddl.TypeNull, true
				continue
			}
			a.widened = append(a.widened, c)
			kept = append(kept, c)
		}
	}
	r.pending = kept
	return a, nil
}

// Commit marks the work of a committed Apply as done.
func (r *Registry) Commit(a Applied) {
	if a.Empty() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	done := make(map[*Column]bool, len(a.added)+len(a.widened))
	for _, c := range a.added {
		if c.State == StatePending {
			c.State = StateLive
		}
		done[c] = true
	}
	for _, c := range a.widened {
		if c.widenTo != ddl.TypeNull {
			c.Type, c.widenTo = c.widenTo, ddl.TypeNull
		}
		done[c] = true
	}
	kept := r.pending[:0]
	for _, c := range r.pending {
		// A column promoted after its ADD was applied is still waiting.
		if !done[c] || c.State == StatePending || c.widenTo != ddl.TypeNull {
			kept = append(kept, c)
		}
	}
	r.pending = kept
}

// Lookup returns the column registered for path.
func (r *Registry) Lookup(path string) (Column, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cols[path]
	if !ok {
		return Column{}, false
	}
	return *c, true
}

// Columns returns a snapshot of every registered path in first-seen order.
func (r *Registry) Columns() []Column {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Column, len(r.order))
	for i, c := range r.order {
		out[i] = *c
	}
	return out
}

// Live returns the number of committed columns.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.order {
		if c.State == StateLive {
			n++
		}
	}
	return n
}
