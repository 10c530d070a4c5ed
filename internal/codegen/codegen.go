// Package codegen produces short numeric codes that a student can copy
// from the instructor's screen.
package codegen

import (
	"crypto/rand"
	"errors"
	"io"
	"math/big"
)

// DefaultLength is the number of digits in a rotating code.
const DefaultLength = 6

const maxAttempts = 64

// ErrExhausted is returned when no unused code could be drawn.
var ErrExhausted = errors.New("codegen: could not draw an unused code")

// Generator draws fixed-length decimal codes from a random source.
type Generator struct {
	length int
	random io.Reader
}

// New creates a generator with the given code length backed by crypto/rand.
func New(length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{length: length, random: rand.Reader}
}

// WithSource returns a copy of the generator that reads randomness from r.
func (g *Generator) WithSource(r io.Reader) *Generator {
	return &Generator{length: g.length, random: r}
}

// Length returns the number of digits per code.
func (g *Generator) Length() int { return g.length }

// Next draws a code for which used returns false. used is typically a
// lookup into the owning session's code history; it may be nil.
func (g *Generator) Next(used func(code string) bool) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		code, err := g.draw()
		if err != nil {
			return "", err
		}
		if used == nil || !used(code) {
			return code, nil
		}
	}
	return "", ErrExhausted
}

func (g *Generator) draw() (string, error) {
	buf := make([]byte, g.length)
	ten := big.NewInt(10)
	for i := range buf {
		n, err := rand.Int(g.random, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}
