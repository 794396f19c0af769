package arena

import (
	"sort"
	"unsafe"

	"github.com/pkg/errors"
)

// BlockAllocator stores elements of type T in fixed-size blocks. Pointers
// returned by Push stay valid while more elements are pushed. After the
// bulk load, BuildIndexTable flattens the block list so At is O(1), and
// Sort orders the elements across blocks.
type BlockAllocator[T any] struct {
	arena    *Arena
	blockLen int
	blocks   [][]T
	count    int
	index    []*T
	released bool
}

// NewBlockAllocator creates an allocator whose blocks hold blockLen
// elements each. Storage is charged to a and dropped when the frame that
// is current on a ends.
func NewBlockAllocator[T any](a *Arena, blockLen int) *BlockAllocator[T] {
	if blockLen <= 0 {
		blockLen = 1024
	}
	b := &BlockAllocator[T]{arena: a, blockLen: blockLen}
	if a != nil {
		a.OnRelease(b.release)
	}
	return b
}

func (b *BlockAllocator[T]) release() {
	b.blocks = nil
	b.index = nil
	b.count = 0
	b.released = true
}

// Push appends a zero element and returns a stable pointer to it.
func (b *BlockAllocator[T]) Push() (*T, error) {
	if b.released {
		return nil, errors.New("arena: block allocator used after its frame ended")
	}
	last := len(b.blocks) - 1
	if last < 0 || len(b.blocks[last]) == cap(b.blocks[last]) {
		if b.arena != nil {
			var zero T
			if err := b.arena.reserve(b.blockLen * int(unsafe.Sizeof(zero))); err != nil {
				return nil, err
			}
		}
		b.blocks = append(b.blocks, make([]T, 0, b.blockLen))
		last++
	}
	b.blocks[last] = append(b.blocks[last], *new(T))
	b.count++
	b.index = nil
	return &b.blocks[last][len(b.blocks[last])-1], nil
}

// Append pushes a copy of v.
func (b *BlockAllocator[T]) Append(v T) error {
	p, err := b.Push()
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Len returns the number of pushed elements.
func (b *BlockAllocator[T]) Len() int {
	return b.count
}

// BuildIndexTable flattens the block list into an index of element
// pointers. It must be called again after further pushes.
func (b *BlockAllocator[T]) BuildIndexTable() {
	index := make([]*T, 0, b.count)
	for _, blk := range b.blocks {
		for i := range blk {
			index = append(index, &blk[i])
		}
	}
	b.index = index
}

// At returns the i-th element in push (or sorted) order.
func (b *BlockAllocator[T]) At(i int) *T {
	if i < 0 || i >= b.count {
		return nil
	}
	if b.index != nil {
		return b.index[i]
	}
	return &b.blocks[i/b.blockLen][i%b.blockLen]
}

// Sort orders the elements in place across blocks.
func (b *BlockAllocator[T]) Sort(less func(x, y *T) bool) {
	if b.index == nil {
		b.BuildIndexTable()
	}
	sort.Sort(blockSorter[T]{b: b, less: less})
}

// Search returns the smallest index i for which f(At(i)) is true, or Len()
// if there is none. Elements must be sorted so that f is monotonic.
func (b *BlockAllocator[T]) Search(f func(*T) bool) int {
	return sort.Search(b.count, func(i int) bool { return f(b.At(i)) })
}

// Slice copies the elements into a new slice.
func (b *BlockAllocator[T]) Slice() []T {
	out := make([]T, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, *b.At(i))
	}
	return out
}

type blockSorter[T any] struct {
	b    *BlockAllocator[T]
	less func(x, y *T) bool
}

func (s blockSorter[T]) Len() int           { return s.b.count }
func (s blockSorter[T]) Less(i, j int) bool { return s.less(s.b.At(i), s.b.At(j)) }
func (s blockSorter[T]) Swap(i, j int) {
	x, y := s.b.At(i), s.b.At(j)
	*x, *y = *y, *x
}
