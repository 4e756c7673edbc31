package world

import "hophop.gg/internal/sim/catalogs"

// Item is a stack of one item type. Position is its slot while it sits in a
// container.
type Item struct {
	ID       int32
	Amount   int32
	Skin     uint64
	Position int32

	def          catalogs.ItemDef
	condition    float32
	maxCondition float32
}

func (it *Item) Def() catalogs.ItemDef { return it.def }

func (it *Item) HasCondition() bool { return it.def.HasCondition() }

func (it *Item) Condition() float32 { return it.condition }

func (it *Item) MaxCondition() float32 { return it.maxCondition }

// SetMaxCondition lowers the durability cap of a worn item. Values outside
// (0, catalog max] are ignored.
func (it *Item) SetMaxCondition(m float32) {
	if !it.HasCondition() || !(m > 0) || m > it.def.MaxCondition {
		return
	}
	it.maxCondition = m
	if it.condition > m {
		it.condition = m
	}
}

// SetCondition clamps c into [0, MaxCondition]. It is a no-op for items
// without durability.
func (it *Item) SetCondition(c float32) {
	if !it.HasCondition() {
		return
	}
	switch {
	case !(c >= 0):
		c = 0
	case c > it.maxCondition:
		c = it.maxCondition
	}
	it.condition = c
}

// Container is a fixed number of slots holding at most one item each.
type Container struct {
	slots []*Item
}

func newContainer(capacity int) *Container {
	return &Container{slots: make([]*Item, capacity)}
}

func (c *Container) Capacity() int { return len(c.slots) }

func (c *Container) Clear() {
	for i := range c.slots {
		c.slots[i] = nil
	}
}

func (c *Container) Slot(i int) *Item {
	if i < 0 || i >= len(c.slots) {
		return nil
	}
	return c.slots[i]
}

// Items returns the occupied slots in slot order.
func (c *Container) Items() []*Item {
	out := make([]*Item, 0, len(c.slots))
	for _, it := range c.slots {
		if it != nil {
			out = append(out, it)
		}
	}
	return out
}

// Insert places it into slot it.Position. It fails when the slot is out of
// range or already taken.
func (c *Container) Insert(it *Item) bool {
	if it == nil {
		return false
	}
	p := int(it.Position)
	if p < 0 || p >= len(c.slots) || c.slots[p] != nil {
		return false
	}
	c.slots[p] = it
	return true
}

// NextFreeSlot returns the first empty slot at or after from, wrapping
// around, or -1 when the container is full.
func (c *Container) NextFreeSlot(from int) int {
	n := len(c.slots)
	if n == 0 {
		return -1
	}
	if from < 0 || from >= n {
		from = 0
	}
	for i := 0; i < n; i++ {
		j := (from + i) % n
		if c.slots[j] == nil {
			return j
		}
	}
	return -1
}
