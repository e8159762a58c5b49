package quarry

var _ Cache[any] = &SimpleCache[any]{}

// SimpleCache is a bounded append-only index keyed by string. The storage uses
// one to reuse resolved fetch plans across queries with the same term
// signature.
type SimpleCache[T any] struct {
	items       []T
	itemIndices map[string]int
	maxCapacity int
}

func FactoryNewCache[T any](cap int) Cache[T] {
	return &SimpleCache[T]{
		itemIndices: make(map[string]int),
		maxCapacity: cap,
	}
}

func (c *SimpleCache[T]) GetIndex(key string) (int, bool) {
	index, ok := c.itemIndices[key]
	return index, ok
}

func (c *SimpleCache[T]) GetItem(index int) *T {
	return &c.items[index]
}

func (c *SimpleCache[T]) GetItem32(index uint32) *T {
	return &c.items[index]
}

func (c *SimpleCache[T]) Register(key string, item T) (int, error) {
	if len(c.itemIndices) >= c.maxCapacity {
		return -1, CacheCapacityError{Capacity: c.maxCapacity}
	}
	idx := len(c.items)
	c.itemIndices[key] = idx
	c.items = append(c.items, item)
	return idx, nil
}

func (c *SimpleCache[T]) Clear() {
	c.items = c.items[:0]
	c.itemIndices = make(map[string]int)
}
