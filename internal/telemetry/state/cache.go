package state

import "sort"

// Cache maps canonical ids to the last state written for them.
type Cache struct {
	m map[string]ObservedState
}

func NewCache() *Cache {
	return &Cache{m: map[string]ObservedState{}}
}

func (c *Cache) Get(id string) (ObservedState, bool) {
	st, ok := c.m[id]
	return st, ok
}

func (c *Cache) Put(id string, st ObservedState) { c.m[id] = st }

func (c *Cache) Delete(id string) { delete(c.m, id) }

func (c *Cache) Len() int { return len(c.m) }

// IDs returns a sorted copy of the cached ids. Callers that mutate the cache
// while walking it iterate this copy.
func (c *Cache) IDs() []string {
	out := make([]string, 0, len(c.m))
	for id := range c.m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
