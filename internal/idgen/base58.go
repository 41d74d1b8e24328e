package idgen

import (
	"fmt"
	"strings"

	"github.com/MagnunAVF/shortlinks/internal"
)

// use Base58 (like Bitcoin)
const (
	alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	base     = 58
)

var alphabetIndex = func() [256]int {
	var idx [256]int
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		idx[alphabet[i]] = i
	}
	return idx
}()

// EncodeID renders an id in the form exposed over the API.
func EncodeID(id int64) string {
	if id <= 0 {
		return string(alphabet[0])
	}

	var buf [11]byte // 58^11 > 2^63
	i := len(buf)
	for n := uint64(id); n > 0; n /= base {
		i--
		buf[i] = alphabet[n%base]
	}

	return string(buf[i:])
}

// DecodeID is the inverse of EncodeID.
func DecodeID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 11 {
		return 0, fmt.Errorf("id %q: %w", s, internal.ErrValidation)
	}

	var n uint64
	for i := 0; i < len(s); i++ {
		d := alphabetIndex[s[i]]
		if d < 0 {
			return 0, fmt.Errorf("id %q: invalid character %q: %w", s, s[i], internal.ErrValidation)
		}
		next := n*base + uint64(d)
		if next/base != n || next > 1<<63-1 {
			return 0, fmt.Errorf("id %q: overflow: %w", s, internal.ErrValidation)
		}
		n = next
	}

	return int64(n), nil
}
