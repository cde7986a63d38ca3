// Package evidence hashes resolution evidence lists exactly as the oracle
// contract does: keccak256(abi.encode(string[])).
package evidence

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

var stringArray = mustArgs("string[]")

func mustArgs(typ string) abi.Arguments {
	t, err := abi.NewType(typ, "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: t}}
}

// Hash returns the digest of uris in the order given. Permutations of the
// same list hash differently; use HashCanonical for order-free hashing.
func Hash(uris []string) (common.Hash, error) {
	if uris == nil {
		uris = []string{}
	}
	enc, err := stringArray.Pack(uris)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evidence: encode: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// HashCanonical hashes the lexicographically sorted copy of uris.
func HashCanonical(uris []string) (common.Hash, error) {
	return Hash(SortCanonical(uris))
}

// SortCanonical returns a sorted copy of uris. The input is not modified.
func SortCanonical(uris []string) []string {
	out := make([]string, len(uris))
	copy(out, uris)
	sort.Strings(out)
	return out
}

// Validate rejects lists containing an empty entry.
func Validate(uris []string) error {
	for i, u := range uris {
		if u == "" {
			return fmt.Errorf("evidence: %w: entry %d is empty", domain.ErrInvalidEvidence, i)
		}
	}
	return nil
}

// ParseList accepts a decoded JSON value and returns it as a validated
// evidence list. Anything other than an array of non-empty strings fails
// with domain.ErrInvalidEvidence.
func ParseList(v any) ([]string, error) {
	var uris []string
	switch list := v.(type) {
	case []string:
		uris = append([]string(nil), list...)
	case []any:
		uris = make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("evidence: %w: entry %d is %T, not a string", domain.ErrInvalidEvidence, i, item)
			}
			uris = append(uris, s)
		}
	default:
		return nil, fmt.Errorf("evidence: %w: expected a list, got %T", domain.ErrInvalidEvidence, v)
	}
	if err := Validate(uris); err != nil {
		return nil, err
	}
	return uris, nil
}
