// Package arena implements a page-backed bump allocator with frame
// (scoped) rollback, plus a block allocator for building sorted tables.
package arena

import (
	"github.com/pkg/errors"
)

// DefaultPageSize is the backing page size used when none is configured.
const DefaultPageSize = 64 * 1024

// ErrOutOfMemory is returned when a push would exceed the arena limit.
var ErrOutOfMemory = errors.New("arena: out of memory")

// Arena hands out byte slices from a list of backing pages. Slices returned
// by Push never move; they stay valid until the frame that covers them ends.
//
// An Arena is not safe for concurrent use. Give each worker its own arena.
type Arena struct {
	pageSize int
	limit    int

	pages []page
	used  int
	hooks []func()

	// open lists the ids of frames begun and not yet ended, innermost last.
	open      []uint64
	nextFrame uint64
}

type page struct {
	buf []byte
	off int
}

// Option configures an Arena.
type Option func(*Arena)

// WithPageSize sets the size of each backing page.
func WithPageSize(n int) Option {
	return func(a *Arena) {
		if n > 0 {
			a.pageSize = n
		}
	}
}

// WithLimit caps the total number of bytes the arena may reserve.
// Zero means unlimited.
func WithLimit(n int) Option {
	return func(a *Arena) {
		a.limit = n
	}
}

// New creates an empty arena.
func New(opts ...Option) *Arena {
	a := &Arena{pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Push returns size zeroed bytes aligned to align within the backing page.
// A new page is reserved when the current one lacks room.
func (a *Arena) Push(size, align int) ([]byte, error) {
	if size < 0 {
		return nil, errors.Errorf("arena: negative size %d", size)
	}
	if align <= 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return nil, errors.Errorf("arena: alignment %d is not a power of two", align)
	}

	if n := len(a.pages); n > 0 {
		p := &a.pages[n-1]
		start := alignUp(p.off, align)
		if start+size <= len(p.buf) {
			p.off = start + size
			return p.buf[start:p.off:p.off], nil
		}
	}

	reserve := a.pageSize
	if size+align > reserve {
		reserve = size + align
	}
	if a.limit > 0 && a.used+reserve > a.limit {
		return nil, errors.Wrapf(ErrOutOfMemory, "push of %d bytes (used %d, limit %d)", size, a.used, a.limit)
	}
	buf := make([]byte, reserve)
	a.used += reserve
	a.pages = append(a.pages, page{buf: buf, off: size})
	return buf[:size:size], nil
}

// reserve charges n bytes against the limit without handing out memory.
// It is used by typed allocators that keep their own Go-managed storage.
func (a *Arena) reserve(n int) error {
	if a.limit > 0 && a.used+n > a.limit {
		return errors.Wrapf(ErrOutOfMemory, "reserve of %d bytes (used %d, limit %d)", n, a.used, a.limit)
	}
	a.used += n
	return nil
}

// OnRelease registers fn to run when the frame that is current at the time
// of the call ends. Hooks run in reverse registration order.
func (a *Arena) OnRelease(fn func()) {
	a.hooks = append(a.hooks, fn)
}

// Used reports the number of bytes reserved by the arena.
func (a *Arena) Used() int {
	return a.used
}

// Pages reports the number of backing pages currently held.
func (a *Arena) Pages() int {
	return len(a.pages)
}

// Frame captures an arena position.
type Frame struct {
	arena *Arena
	id    uint64
	pages int
	off   int
	used  int
	hooks int
}

// Begin captures the current position. Everything pushed after Begin is
// released by the matching End.
func (a *Arena) Begin() Frame {
	a.nextFrame++
	f := Frame{arena: a, id: a.nextFrame, pages: len(a.pages), used: a.used, hooks: len(a.hooks)}
	if f.pages > 0 {
		f.off = a.pages[f.pages-1].off
	}
	a.open = append(a.open, f.id)
	return f
}

// openIndex returns the position of f in the open frame stack, or -1 once
// f has been ended directly or by an enclosing frame.
func (a *Arena) openIndex(f Frame) int {
	for i := len(a.open) - 1; i >= 0; i-- {
		if a.open[i] == f.id {
			return i
		}
	}
	return -1
}

// End restores the position captured by f, releasing any frames begun
// after it. Slices pushed after the frame began must not be used
// afterwards. Ending a frame that an earlier End already released does
// nothing.
func (a *Arena) End(f Frame) {
	if f.arena != a {
		panic("arena: frame ended on a different arena")
	}
	i := a.openIndex(f)
	if i < 0 {
		return
	}
	a.open = a.open[:i]
	for i := len(a.hooks) - 1; i >= f.hooks; i-- {
		a.hooks[i]()
	}
	a.hooks = a.hooks[:f.hooks]

	for i := f.pages; i < len(a.pages); i++ {
		a.pages[i] = page{}
	}
	a.pages = a.pages[:f.pages]
	if f.pages > 0 {
		p := &a.pages[f.pages-1]
		clear(p.buf[f.off:p.off])
		p.off = f.off
	}
	a.used = f.used
}

// End is shorthand for f's arena End.
func (f Frame) End() {
	f.arena.End(f)
}

// Scope runs fn inside a frame. The frame is ended when fn returns an
// error; on success the allocations are kept.
func (a *Arena) Scope(fn func() error) error {
	f := a.Begin()
	if err := fn(); err != nil {
		a.End(f)
		return err
	}
	if i := a.openIndex(f); i >= 0 {
		a.open = append(a.open[:i], a.open[i+1:]...)
	}
	return nil
}

func alignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}
