package compiler

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache memoizes Compile by canonical payload. Plans handed out are copies.
type Cache struct {
	plans *lru.Cache[string, Plan]
}

// NewCache returns a cache holding at most size plans.
func NewCache(size int) (*Cache, error) {
	plans, err := lru.New[string, Plan](size)
	if err != nil {
		return nil, err
	}
	return &Cache{plans: plans}, nil
}

// Compile returns the cached plan for the inputs, compiling on a miss.
// A nil Cache compiles every call.
func (c *Cache) Compile(payload map[string]any, defaultWindow int, defaultSource string) Plan {
	if c == nil {
		return Compile(payload, defaultWindow, defaultSource)
	}
	body, err := canonicalJSON(payload)
	if err != nil {
		return Compile(payload, defaultWindow, defaultSource)
	}
	key := fmt.Sprintf("%d|%s|%s", defaultWindow, defaultSource, body)

	if p, ok := c.plans.Get(key); ok {
		return p.clone()
	}
	p := Compile(payload, defaultWindow, defaultSource)
	c.plans.Add(key, p)
	return p.clone()
}

// Len reports the number of cached plans.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.plans.Len()
}
