package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	maxSeeds      = 16
	maxSeedLength = 32
	pdaMarker     = "ProgramDerivedAddress"
)

// ErrNoViableBump is returned when every bump seed yields an on-curve point.
var ErrNoViableBump = errors.New("unable to find a viable program address bump seed")

// DecodePubkey decodes a base58 public key.
func DecodePubkey(s string) ([]byte, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode pubkey %q: %w", s, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("decode pubkey %q: length %d", s, len(b))
	}
	return b, nil
}

// CreateProgramAddress derives an address from seeds and a program id.
// The result must not be a valid ed25519 point.
func CreateProgramAddress(seeds [][]byte, programID string) (string, error) {
	if len(seeds) > maxSeeds {
		return "", fmt.Errorf("too many seeds: %d", len(seeds))
	}
	program, err := DecodePubkey(programID)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, s := range seeds {
		if len(s) > maxSeedLength {
			return "", fmt.Errorf("seed longer than %d bytes", maxSeedLength)
		}
		h.Write(s)
	}
	h.Write(program)
	h.Write([]byte(pdaMarker))
	sum := h.Sum(nil)

	if isOnCurve(sum) {
		return "", errors.New("derived address is on the ed25519 curve")
	}
	return base58.Encode(sum), nil
}

// FindProgramAddress searches bump seeds from 255 down and returns the first
// off-curve address with its bump.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		withBump := make([][]byte, 0, len(seeds)+1)
		withBump = append(withBump, seeds...)
		withBump = append(withBump, []byte{byte(bump)})
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
	}
	return "", 0, ErrNoViableBump
}

func isOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
