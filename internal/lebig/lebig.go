// Package lebig converts between math/big.Int and the little-endian,
// fixed-width byte layout used throughout BI-format keys and signatures.
package lebig

import "math/big"

// ToBytes encodes n as a little-endian byte slice of exactly length
// bytes, left-padding (in big-endian terms) with zero.
func ToBytes(n *big.Int, length int) []byte {
	b := n.FillBytes(make([]byte, length))
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}

// FromBytes decodes a little-endian byte slice into a big.Int.
func FromBytes(b []byte) *big.Int {
	rev := make([]byte, len(b))
	for i, v := range b {
		rev[len(b)-1-i] = v
	}
	return new(big.Int).SetBytes(rev)
}
