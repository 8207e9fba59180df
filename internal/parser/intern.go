package parser

// Handle identifies a string inside one Pool. Handle 0 is always "".
type Handle uint32

// Pool deduplicates the country and description strings of one snapshot.
//
// A Pool is built by a single goroutine during Parse and frozen before the
// snapshot that owns it is published. After Freeze it is read-only and safe
// for concurrent Value calls without locking. Pools are never shared between
// snapshots, so dropping an old snapshot drops its strings with it.
type Pool struct {
	values []string
	index  map[string]Handle
	frozen bool
}

// NewPool creates an empty pool sized for roughly capacity distinct values.
func NewPool(capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{
		values: make([]string, 1, capacity), // handle 0 = ""
		index:  make(map[string]Handle, capacity),
	}
}

// Intern returns the handle for s, adding it when it is new.
// It panics when called after Freeze.
func (p *Pool) Intern(s string) Handle {
	if s == "" {
		return 0
	}
	if h, ok := p.index[s]; ok {
		return h
	}
	return p.add(s)
}

// InternBytes is Intern for a byte slice. It only allocates when b is a
// value the pool has not seen yet.
func (p *Pool) InternBytes(b []byte) Handle {
	if len(b) == 0 {
		return 0
	}
	if h, ok := p.index[string(b)]; ok {
		return h
	}
	return p.add(string(b))
}

func (p *Pool) add(s string) Handle {
	if p.frozen {
		panic("parser: intern into frozen pool")
	}
	h := Handle(len(p.values))
	p.values = append(p.values, s)
	p.index[s] = h
	return h
}

// Value resolves a handle. Unknown handles resolve to "".
func (p *Pool) Value(h Handle) string {
	if p == nil || int(h) >= len(p.values) {
		return ""
	}
	return p.values[h]
}

// Len reports the number of distinct values, including the empty string.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.values)
}

// Freeze makes the pool read-only and releases the lookup index.
func (p *Pool) Freeze() {
	p.frozen = true
	p.index = nil
}

// Frozen reports whether Freeze has been called.
func (p *Pool) Frozen() bool {
	return p.frozen
}
