package expressions

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// programCache is a bounded LRU of compiled programs keyed by source text.
type programCache[P any] struct {
	lru *lru.Cache[string, P]
}

func newProgramCache[P any](size int) *programCache[P] {
	c, err := lru.New[string, P](size)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &programCache[P]{lru: c}
}

// getOrCompile returns the cached program for expression or compiles and
// stores a new one. Concurrent first compiles of the same text may both run.
func (c *programCache[P]) getOrCompile(expression string, compile func() (P, error)) (P, error) {
	if p, ok := c.lru.Get(expression); ok {
		return p, nil
	}
	p, err := compile()
	if err != nil {
		var zero P
		return zero, err
	}
	c.lru.Add(expression, p)
	return p, nil
}

func (c *programCache[P]) len() int { return c.lru.Len() }
