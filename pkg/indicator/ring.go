package indicator

import "github.com/shopspring/decimal"

// ring is a fixed-capacity window holding the most recent values.
type ring struct {
	buf  []decimal.Decimal
	next int
	n    int
}

func newRing(size int) *ring {
	if size < 1 {
		size = 1
	}
	return &ring{buf: make([]decimal.Decimal, size)}
}

// push appends v. When the window was already full the overwritten value
// is returned with ok set.
func (r *ring) push(v decimal.Decimal) (evicted decimal.Decimal, ok bool) {
	if r.n == len(r.buf) {
		evicted, ok = r.buf[r.next], true
	} else {
		r.n++
	}
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	return evicted, ok
}

func (r *ring) full() bool { return r.n == len(r.buf) }

func (r *ring) size() int { return r.n }

func (r *ring) capacity() int { return len(r.buf) }

// each visits the stored values, oldest first.
func (r *ring) each(fn func(decimal.Decimal)) {
	start := (r.next - r.n + len(r.buf)) % len(r.buf)
	for i := 0; i < r.n; i++ {
		fn(r.buf[(start+i)%len(r.buf)])
	}
}

func (r *ring) reset() {
	r.next, r.n = 0, 0
}
