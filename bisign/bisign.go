// Package bisign implements EMSA-PKCS1-v1.5 padding with a hard-coded
// SHA-1 DigestInfo prefix, RSA sign/verify over that padding, and the
// .bisign container format that carries a public key plus three such
// signatures.
package bisign

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/go-i2p/pbosign/bikey"
	"github.com/go-i2p/pbosign/internal/lebig"
)

// Error kinds surfaced by this package.
var (
	ErrModulusTooSmall    = errors.New("bisign: modulus too small for SHA-1 DigestInfo padding")
	ErrVerificationFailed = errors.New("bisign: signature verification failed")
)

// digestInfoPrefixSHA1 is the fixed DER encoding of
// SEQUENCE{ SEQUENCE{ OID sha1, NULL }, OCTET STRING } up to but not
// including the 20 digest bytes. The legacy format always signs
// SHA-1 digests, so this prefix is hard-coded rather than looked up
// by algorithm.
var digestInfoPrefixSHA1 = []byte{
	0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e, 0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14,
}

// emsaPKCS1v15 builds the padded encoded message EM = 0x00 0x01
// (0xFF × n) 0x00 || DigestInfo || digest, exactly k bytes wide.
func emsaPKCS1v15(digest [20]byte, k int) ([]byte, error) {
	padCount := k - len(digestInfoPrefixSHA1) - len(digest) - 3
	if padCount < 0 {
		return nil, fmt.Errorf("%w: %d-byte modulus cannot carry a SHA-1 DigestInfo", ErrModulusTooSmall, k)
	}
	em := make([]byte, 0, k)
	em = append(em, 0x00, 0x01)
	for i := 0; i < padCount; i++ {
		em = append(em, 0xFF)
	}
	em = append(em, 0x00)
	em = append(em, digestInfoPrefixSHA1...)
	em = append(em, digest[:]...)
	return em, nil
}

// Pad returns the EMSA-PKCS1-v1.5 encoded message for digest, as an
// integer of byte-width k.
func Pad(digest [20]byte, k int) (*big.Int, error) {
	em, err := emsaPKCS1v15(digest, k)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(em), nil
}

// crtExp computes m^d mod n, using the CRT components when available.
// This targets correctness, not constant-time execution: the legacy
// signer has no side-channel requirement to meet.
func crtExp(m *big.Int, priv *bikey.PrivateKey) *big.Int {
	if priv.P == nil || priv.Q == nil || priv.Dp == nil || priv.Dq == nil || priv.QInv == nil {
		return new(big.Int).Exp(m, priv.D, priv.Modulus)
	}
	m1 := new(big.Int).Exp(m, priv.Dp, priv.P)
	m2 := new(big.Int).Exp(m, priv.Dq, priv.Q)
	h := new(big.Int).Sub(m1, m2)
	h.Mod(h, priv.P)
	h.Mul(h, priv.QInv)
	h.Mod(h, priv.P)
	result := new(big.Int).Mul(h, priv.Q)
	result.Add(result, m2)
	return result
}

// Sign produces the raw RSA signature over digest: pad it, then raise
// it to the private exponent mod n.
func Sign(priv *bikey.PrivateKey, digest [20]byte) (*big.Int, error) {
	k := int(priv.BitLength / 8)
	m, err := Pad(digest, k)
	if err != nil {
		return nil, err
	}
	if m.Cmp(priv.Modulus) >= 0 {
		return nil, fmt.Errorf("%w: padded message is not smaller than the modulus", ErrModulusTooSmall)
	}
	return crtExp(m, priv), nil
}

// Verify checks sig against digest under pub, by re-deriving the
// expected padded message and comparing it to sig^e mod n.
func Verify(pub *bikey.PublicKey, digest [20]byte, sig *big.Int) (bool, error) {
	k := int(pub.BitLength / 8)
	expected, err := Pad(digest, k)
	if err != nil {
		return false, err
	}
	e := big.NewInt(int64(pub.Exponent))
	actual := new(big.Int).Exp(sig, e, pub.Modulus)
	return expected.Cmp(actual) == 0, nil
}

// File is a parsed .bisign signature file: a public key plus three
// RSA signatures computed over hash1, hash2, and hash3.
type File struct {
	PublicKey        *bikey.PublicKey
	Sig1, Sig2, Sig3 *big.Int
	Version          uint32
}

func readSigBlock(r io.Reader) (*big.Int, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("bisign: signature length: %w", err)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("bisign: signature bytes: %w", err)
	}
	return lebig.FromBytes(buf), nil
}

func writeSigBlock(w io.Writer, sig *big.Int, k int) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(k)); err != nil {
		return err
	}
	_, err := w.Write(lebig.ToBytes(sig, k))
	return err
}

// ReadFile parses a .bisign file: public key, sig1, version, sig2,
// sig3, in that order.
func ReadFile(r io.Reader) (*File, error) {
	pub, err := bikey.ReadPublicKey(r)
	if err != nil {
		return nil, fmt.Errorf("bisign: public key: %w", err)
	}
	sig1, err := readSigBlock(r)
	if err != nil {
		return nil, err
	}
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("bisign: version: %w", err)
	}
	sig2, err := readSigBlock(r)
	if err != nil {
		return nil, err
	}
	sig3, err := readSigBlock(r)
	if err != nil {
		return nil, err
	}
	return &File{PublicKey: pub, Sig1: sig1, Sig2: sig2, Sig3: sig3, Version: version}, nil
}

// WriteTo serialises the signature file: public key, sig1, version,
// sig2, sig3.
func (f *File) WriteTo(w io.Writer) error {
	if err := bikey.WritePublicKey(w, f.PublicKey); err != nil {
		return err
	}
	k := int(f.PublicKey.BitLength / 8)
	if err := writeSigBlock(w, f.Sig1, k); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, f.Version); err != nil {
		return err
	}
	if err := writeSigBlock(w, f.Sig2, k); err != nil {
		return err
	}
	return writeSigBlock(w, f.Sig3, k)
}
