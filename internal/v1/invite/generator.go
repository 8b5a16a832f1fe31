// Package invite produces the short single-use passphrases guests redeem to
// join a room.
package invite

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/drophub/drophub/internal/v1/types"
)

// Alphabet is the unambiguous passphrase alphabet: digits 2-9 and lowercase
// letters excluding i, l and o. Passphrases are case-sensitive.
const Alphabet = "23456789abcdefghjkmnpqrstuvwxyz"

// PassphraseLength is the fixed generated passphrase length. Redeemed
// passphrases between 6 and 8 characters are accepted.
const PassphraseLength = 8

const maxAttempts = 100

// ErrGenerationFailure is returned when the underlying RNG fails
// irrecoverably or the collision re-roll budget is exhausted.
var ErrGenerationFailure = errors.New("invite generation failed")

// Invite is a single-use, short-lived passphrase bound to one room.
// Redemption removes it; it also dies silently at ExpiresAt.
type Invite struct {
	Passphrase string       `json:"passphrase"`
	RoomID     types.RoomID `json:"room_id"`
	ExpiresAt  time.Time    `json:"expires_at"`
}

// Live reports whether the invite is still redeemable at now.
func (i *Invite) Live(now time.Time) bool {
	return now.Before(i.ExpiresAt)
}

// Generator produces passphrases from the unambiguous alphabet. The zero
// value is not usable; construct with NewGenerator.
type Generator struct {
	rand io.Reader
}

// NewGenerator returns a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewGeneratorWithRand returns a generator reading randomness from r.
// Used by tests to simulate RNG failure.
func NewGeneratorWithRand(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// Passphrase draws a uniform passphrase, re-rolling while taken reports the
// candidate as already live in the target room.
func (g *Generator) Passphrase(taken func(string) bool) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate, err := g.draw()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrGenerationFailure, err)
		}
		if taken != nil && taken(candidate) {
			continue
		}
		return candidate, nil
	}
	return "", ErrGenerationFailure
}

// draw samples PassphraseLength characters uniformly via rejection sampling,
// so the modulo never skews the distribution.
func (g *Generator) draw() (string, error) {
	// Largest multiple of len(Alphabet) below 256.
	limit := byte(256 - 256%len(Alphabet))

	out := make([]byte, 0, PassphraseLength)
	buf := make([]byte, PassphraseLength*2)
	for len(out) < PassphraseLength {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == PassphraseLength {
				break
			}
		}
	}
	return string(out), nil
}
