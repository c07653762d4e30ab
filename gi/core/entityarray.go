package core

// ElementID is a stable handle into an EntityArray. The generation counter
// catches use of handles whose slot has been reused.
type ElementID struct {
	Index      int32
	Generation uint32
}

var InvalidElementID = ElementID{Index: -1}

func (id ElementID) IsValid() bool {
	return id.Index >= 0
}

type slot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// EntityArray is a slot map with a free list. Two arrays fed the same
// sequence of Emplace/RemoveAt calls hand out identical ElementIDs, which is
// what keeps the build-thread and render-thread registries in lockstep.
type EntityArray[T any] struct {
	slots []slot[T]
	free  []int32
	count int
}

func (a *EntityArray[T]) Emplace(v T) ElementID {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.value = v
		s.live = true
		a.count++
		return ElementID{Index: idx, Generation: s.generation}
	}
	a.slots = append(a.slots, slot[T]{value: v, live: true})
	a.count++
	return ElementID{Index: int32(len(a.slots) - 1)}
}

// Get resolves a handle, or nil when the handle is stale or invalid.
func (a *EntityArray[T]) Get(id ElementID) *T {
	if id.Index < 0 || int(id.Index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[id.Index]
	if !s.live || s.generation != id.Generation {
		return nil
	}
	return &s.value
}

func (a *EntityArray[T]) RemoveAt(id ElementID) bool {
	if a.Get(id) == nil {
		return false
	}
	s := &a.slots[id.Index]
	var zero T
	s.value = zero
	s.live = false
	s.generation++
	a.free = append(a.free, id.Index)
	a.count--
	return true
}

func (a *EntityArray[T]) Len() int {
	return a.count
}

// Each visits live elements in index order.
func (a *EntityArray[T]) Each(fn func(id ElementID, v *T)) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.live {
			fn(ElementID{Index: int32(i), Generation: s.generation}, &s.value)
		}
	}
}

func (a *EntityArray[T]) Clear() {
	a.slots = nil
	a.free = nil
	a.count = 0
}
