// Package idgen produces the short identifiers used in object URLs.
package idgen

import (
	"fmt"
	"sync"

	nanoid "github.com/jaevor/go-nanoid"
)

// Alphabet is the id character set: lowercase letters and digits, which
// survive being read aloud or typed from a terminal.
const Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// DefaultLength is the id length used when callers pass zero or less.
const DefaultLength = 4

// Generator draws ids from a cryptographically strong source.
type Generator struct {
	mu   sync.Mutex
	gens map[int]func() string
}

// New creates a Generator.
func New() *Generator {
	return &Generator{gens: make(map[int]func() string)}
}

// Next returns a random id of the given length.
func (g *Generator) Next(length int) (string, error) {
	if length <= 0 {
		length = DefaultLength
	}

	gen, err := g.generator(length)
	if err != nil {
		return "", err
	}
	return gen()[:length], nil
}

// minNanoidLength is the shortest length go-nanoid's ASCII generator can
// fill; below it the generator never returns. Shorter ids are cut from a
// longer draw, each character being uniform on its own.
const minNanoidLength = 5

func (g *Generator) generator(length int) (func() string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if gen, ok := g.gens[length]; ok {
		return gen, nil
	}

	gen, err := nanoid.CustomASCII(Alphabet, max(length, minNanoidLength))
	if err != nil {
		return nil, fmt.Errorf("failed to build id generator: %w", err)
	}
	g.gens[length] = gen
	return gen, nil
}

// Valid reports whether id could have been produced by a Generator. It is
// used to reject path-like input before it reaches the filesystem.
func Valid(id string) bool {
	if id == "" || len(id) > 32 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}
