// Package hashid derives short reversible ticket tokens from sequence
// numbers. The same (salt, alphabet, minimum length) triple always yields
// the same token for the same number, so a ticket re-derives its token
// across runs and across mail clients.
package hashid

import (
	"errors"
	"fmt"
	"strings"

	hashids "github.com/speps/go-hashids/v2"
)

// ErrDecode marks tokens that cannot be mapped back to a sequence number.
var ErrDecode = errors.New("token does not decode")

// Options configure the codec.
type Options struct {
	Salt      string
	Alphabet  string
	MinLength int
}

// Codec encodes sequence numbers into tokens and back.
type Codec struct {
	h         *hashids.HashID
	alphabet  string
	minLength int
}

// New validates the options and builds a codec.
func New(opts Options) (*Codec, error) {
	if opts.MinLength < 0 {
		return nil, fmt.Errorf("minimum token length must be >= 0 (is %d)", opts.MinLength)
	}
	if len(opts.Alphabet) < 2 {
		return nil, fmt.Errorf("alphabet must contain at least two characters (is %q)", opts.Alphabet)
	}
	seen := make(map[rune]bool, len(opts.Alphabet))
	for _, r := range opts.Alphabet {
		if seen[r] {
			return nil, fmt.Errorf("alphabet contains duplicate character %q", r)
		}
		seen[r] = true
	}

	data := hashids.NewData()
	data.Salt = opts.Salt
	data.Alphabet = opts.Alphabet
	data.MinLength = opts.MinLength

	h, err := hashids.NewWithData(data)
	if err != nil {
		return nil, fmt.Errorf("hashid codec: %w", err)
	}

	return &Codec{h: h, alphabet: opts.Alphabet, minLength: opts.MinLength}, nil
}

// Alphabet returns the configured alphabet.
func (c *Codec) Alphabet() string {
	return c.alphabet
}

// MinLength returns the configured minimum token length.
func (c *Codec) MinLength() int {
	return c.minLength
}

// Encode turns a non-negative sequence number into a token.
func (c *Codec) Encode(n int) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("sequence number must be non-negative (is %d)", n)
	}
	token, err := c.h.Encode([]int{n})
	if err != nil {
		return "", fmt.Errorf("encode %d: %w", n, err)
	}
	return token, nil
}

// Decode recovers the sequence number encoded in token. Tokens containing
// characters outside the alphabet, or that do not round-trip back to the
// same token, fail with ErrDecode.
func (c *Codec) Decode(token string) (int, error) {
	if token == "" {
		return 0, fmt.Errorf("%w: empty token", ErrDecode)
	}
	for _, r := range token {
		if !strings.ContainsRune(c.alphabet, r) {
			return 0, fmt.Errorf("%w: %q contains character %q outside alphabet", ErrDecode, token, r)
		}
	}

	nums, err := c.h.DecodeWithError(token)
	if err != nil || len(nums) != 1 {
		return 0, fmt.Errorf("%w: %q", ErrDecode, token)
	}

	// A forged token can still decode to some number; only accept tokens
	// the codec itself would have produced.
	again, err := c.h.Encode(nums)
	if err != nil || again != token {
		return 0, fmt.Errorf("%w: %q is not a canonical token", ErrDecode, token)
	}

	return nums[0], nil
}
