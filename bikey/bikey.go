// Package bikey reads and writes Microsoft CAPI-style BI-format RSA
// keys (PUBLICKEYBLOB / PRIVATEKEYBLOB) and bootstraps them from DER
// or PEM input, the way a key first minted by openssl gets converted
// into a form the legacy signer understands.
package bikey

import (
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-i2p/pbosign/der"
	"github.com/go-i2p/pbosign/internal/asciiz"
	"github.com/go-i2p/pbosign/internal/lebig"
)

// Error kinds surfaced by this package.
var (
	ErrMalformedKey       = errors.New("bikey: malformed key data")
	ErrInvalidKeyForm     = errors.New("bikey: invalid key form")
	ErrUnsupportedKeyForm = errors.New("bikey: unsupported keyform")
)

const (
	blobTypePublic  = 6
	blobTypePrivate = 7
	blobVersion     = 2
	algIDRSASign    = 0x2400
)

var magicPublic = [4]byte{'R', 'S', 'A', '1'}
var magicPrivate = [4]byte{'R', 'S', 'A', '2'}

// PublicKey is an RSA public key as carried in a PUBLICKEYBLOB.
type PublicKey struct {
	Name      string
	BitLength uint32
	Exponent  uint32
	Modulus   *big.Int
}

// PrivateKey is an RSA private key as carried in a PRIVATEKEYBLOB,
// including the CRT components needed for fast decryption/signing.
type PrivateKey struct {
	PublicKey
	D, P, Q, Dp, Dq, QInv *big.Int
}

func readBlobPrefix(r io.Reader, wantType uint8, wantMagic [4]byte) (name string, bitLength, exponent uint32, modulus *big.Int, err error) {
	nameBytes, err := asciiz.Read(r)
	if err != nil {
		return "", 0, 0, nil, fmt.Errorf("%w: name: %v", ErrMalformedKey, err)
	}
	var blobLength uint32
	var blobType, blobVer uint8
	var reservedField uint16
	var algID uint32
	if err = binary.Read(r, binary.LittleEndian, &blobLength); err != nil {
		return "", 0, 0, nil, fmt.Errorf("%w: blob length: %v", ErrMalformedKey, err)
	}
	if err = binary.Read(r, binary.LittleEndian, &blobType); err != nil {
		return "", 0, 0, nil, fmt.Errorf("%w: blob type: %v", ErrMalformedKey, err)
	}
	if err = binary.Read(r, binary.LittleEndian, &blobVer); err != nil {
		return "", 0, 0, nil, fmt.Errorf("%w: blob version: %v", ErrMalformedKey, err)
	}
	if err = binary.Read(r, binary.LittleEndian, &reservedField); err != nil {
		return "", 0, 0, nil, fmt.Errorf("%w: reserved: %v", ErrMalformedKey, err)
	}
	if err = binary.Read(r, binary.LittleEndian, &algID); err != nil {
		return "", 0, 0, nil, fmt.Errorf("%w: alg id: %v", ErrMalformedKey, err)
	}
	var magic [4]byte
	if _, err = io.ReadFull(r, magic[:]); err != nil {
		return "", 0, 0, nil, fmt.Errorf("%w: magic: %v", ErrMalformedKey, err)
	}
	if magic != wantMagic {
		return "", 0, 0, nil, fmt.Errorf("%w: magic %q does not match expected blob type", ErrInvalidKeyForm, magic)
	}
	if blobType != wantType {
		return "", 0, 0, nil, fmt.Errorf("%w: blob type %d does not match expected %d", ErrInvalidKeyForm, blobType, wantType)
	}
	var bitLen, exp uint32
	if err = binary.Read(r, binary.LittleEndian, &bitLen); err != nil {
		return "", 0, 0, nil, fmt.Errorf("%w: bit length: %v", ErrMalformedKey, err)
	}
	if err = binary.Read(r, binary.LittleEndian, &exp); err != nil {
		return "", 0, 0, nil, fmt.Errorf("%w: public exponent: %v", ErrMalformedKey, err)
	}
	if bitLen%8 != 0 {
		return "", 0, 0, nil, fmt.Errorf("%w: bit length %d is not a multiple of 8", ErrInvalidKeyForm, bitLen)
	}
	modBytes := make([]byte, bitLen/8)
	if _, err = io.ReadFull(r, modBytes); err != nil {
		return "", 0, 0, nil, fmt.Errorf("%w: modulus: %v", ErrMalformedKey, err)
	}
	mod := lebig.FromBytes(modBytes)
	if uint32(mod.BitLen()) > bitLen {
		return "", 0, 0, nil, fmt.Errorf("%w: modulus exceeds its declared bit length", ErrInvalidKeyForm)
	}
	return string(nameBytes), bitLen, exp, mod, nil
}

// ReadPublicKey parses a PUBLICKEYBLOB from r.
func ReadPublicKey(r io.Reader) (*PublicKey, error) {
	name, bitLen, exp, mod, err := readBlobPrefix(r, blobTypePublic, magicPublic)
	if err != nil {
		return nil, err
	}
	return &PublicKey{Name: name, BitLength: bitLen, Exponent: exp, Modulus: mod}, nil
}

func readLEBigInt(r io.Reader, n int) (*big.Int, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return lebig.FromBytes(buf), nil
}

// ReadPrivateKey parses a PRIVATEKEYBLOB from r.
func ReadPrivateKey(r io.Reader) (*PrivateKey, error) {
	name, bitLen, exp, mod, err := readBlobPrefix(r, blobTypePrivate, magicPrivate)
	if err != nil {
		return nil, err
	}
	crtLen := int(bitLen / 16)
	p, err := readLEBigInt(r, crtLen)
	if err != nil {
		return nil, err
	}
	q, err := readLEBigInt(r, crtLen)
	if err != nil {
		return nil, err
	}
	dp, err := readLEBigInt(r, crtLen)
	if err != nil {
		return nil, err
	}
	dq, err := readLEBigInt(r, crtLen)
	if err != nil {
		return nil, err
	}
	qinv, err := readLEBigInt(r, crtLen)
	if err != nil {
		return nil, err
	}
	d, err := readLEBigInt(r, int(bitLen/8))
	if err != nil {
		return nil, err
	}
	return &PrivateKey{
		PublicKey: PublicKey{Name: name, BitLength: bitLen, Exponent: exp, Modulus: mod},
		D:         d, P: p, Q: q, Dp: dp, Dq: dq, QInv: qinv,
	}, nil
}

func writeBlob(w io.Writer, name string, blobType uint8, magic [4]byte, bitLength, exponent, blobLength uint32, modulus *big.Int) error {
	if err := asciiz.Write(w, []byte(name)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blobLength); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blobType); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(blobVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(0)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(algIDRSASign)); err != nil {
		return err
	}
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, bitLength); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, exponent); err != nil {
		return err
	}
	_, err := w.Write(lebig.ToBytes(modulus, int(bitLength/8)))
	return err
}

// WritePublicKey serialises k as a PUBLICKEYBLOB.
func WritePublicKey(w io.Writer, k *PublicKey) error {
	blobLength := k.BitLength/8 + 20
	return writeBlob(w, k.Name, blobTypePublic, magicPublic, k.BitLength, k.Exponent, blobLength, k.Modulus)
}

// WritePrivateKey serialises k as a PRIVATEKEYBLOB.
func WritePrivateKey(w io.Writer, k *PrivateKey) error {
	blobLength := k.BitLength/16*9 + 20
	if err := writeBlob(w, k.Name, blobTypePrivate, magicPrivate, k.BitLength, k.Exponent, blobLength, k.Modulus); err != nil {
		return err
	}
	crtLen := int(k.BitLength / 16)
	for _, v := range []*big.Int{k.P, k.Q, k.Dp, k.Dq, k.QInv} {
		if _, err := w.Write(lebig.ToBytes(v, crtLen)); err != nil {
			return err
		}
	}
	_, err := w.Write(lebig.ToBytes(k.D, int(k.BitLength/8)))
	return err
}

// PublicKeyFromDER parses an X.509 SubjectPublicKeyInfo holding an RSA
// key, as produced by an ordinary PEM-to-DER dump.
func PublicKeyFromDER(data []byte, name string) (*PublicKey, error) {
	top, err := der.Parse(data)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return nil, fmt.Errorf("%w: empty SubjectPublicKeyInfo", der.ErrMalformedDER)
	}
	seq, ok := top[0].([]der.Value)
	if !ok || len(seq) < 2 {
		return nil, fmt.Errorf("%w: not a SubjectPublicKeyInfo SEQUENCE", der.ErrMalformedDER)
	}
	bitstr, ok := seq[1].([]der.Value)
	if !ok || len(bitstr) < 1 {
		return nil, fmt.Errorf("%w: subjectPublicKey is not a decodable BIT STRING", der.ErrMalformedDER)
	}
	inner, ok := bitstr[0].([]der.Value)
	if !ok || len(inner) < 2 {
		return nil, fmt.Errorf("%w: RSAPublicKey is not a SEQUENCE{modulus, exponent}", der.ErrMalformedDER)
	}
	n, ok := inner[0].(*big.Int)
	e, ok2 := inner[1].(*big.Int)
	if !ok || !ok2 {
		return nil, fmt.Errorf("%w: modulus/exponent are not INTEGER", der.ErrMalformedDER)
	}
	return &PublicKey{Name: name, BitLength: uint32(n.BitLen()), Exponent: uint32(e.Int64()), Modulus: n}, nil
}

func pkcs1PrivateKey(seq []der.Value, name string) (*PrivateKey, error) {
	if len(seq) < 9 {
		return nil, fmt.Errorf("%w: PKCS#1 RSAPrivateKey is missing fields", der.ErrMalformedDER)
	}
	ints := make([]*big.Int, 9)
	for i := 0; i < 9; i++ {
		v, ok := seq[i].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("%w: PKCS#1 field %d is not an INTEGER", der.ErrMalformedDER, i)
		}
		ints[i] = v
	}
	n, e, d, p, q, dp, dq, qinv := ints[1], ints[2], ints[3], ints[4], ints[5], ints[6], ints[7], ints[8]
	return &PrivateKey{
		PublicKey: PublicKey{Name: name, BitLength: uint32(n.BitLen()), Exponent: uint32(e.Int64()), Modulus: n},
		D:         d, P: p, Q: q, Dp: dp, Dq: dq, QInv: qinv,
	}, nil
}

// PrivateKeyFromDER parses either a bare PKCS#1 RSAPrivateKey or a
// PKCS#8 PrivateKeyInfo wrapping one.
func PrivateKeyFromDER(data []byte, name string) (*PrivateKey, error) {
	top, err := der.Parse(data)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return nil, fmt.Errorf("%w: empty private key DER", der.ErrMalformedDER)
	}
	seq, ok := top[0].([]der.Value)
	if !ok {
		return nil, fmt.Errorf("%w: private key is not a SEQUENCE", der.ErrMalformedDER)
	}
	if len(seq) >= 9 {
		if pk, err := pkcs1PrivateKey(seq, name); err == nil {
			return pk, nil
		}
	}
	if len(seq) < 3 {
		return nil, fmt.Errorf("%w: unrecognised private key DER shape", der.ErrMalformedDER)
	}
	octets, ok := seq[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: PKCS#8 privateKey field is not an OCTET STRING", der.ErrMalformedDER)
	}
	inner, err := der.Parse(octets)
	if err != nil {
		return nil, err
	}
	if len(inner) == 0 {
		return nil, fmt.Errorf("%w: empty inner PKCS#1 body", der.ErrMalformedDER)
	}
	innerSeq, ok := inner[0].([]der.Value)
	if !ok {
		return nil, fmt.Errorf("%w: inner PKCS#1 body is not a SEQUENCE", der.ErrMalformedDER)
	}
	return pkcs1PrivateKey(innerSeq, name)
}

// PublicKeyFromPEM unwraps a PEM block and decodes it as a DER
// SubjectPublicKeyInfo.
func PublicKeyFromPEM(data []byte, name string) (*PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrMalformedKey)
	}
	return PublicKeyFromDER(block.Bytes, name)
}

// PrivateKeyFromPEM unwraps a PEM block holding either a PKCS#1
// "RSA PRIVATE KEY" or a PKCS#8 "PRIVATE KEY".
func PrivateKeyFromPEM(data []byte, name string) (*PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrMalformedKey)
	}
	switch block.Type {
	case "RSA PRIVATE KEY", "PRIVATE KEY":
		return PrivateKeyFromDER(block.Bytes, name)
	default:
		return nil, fmt.Errorf("%w: PEM block type %q", ErrUnsupportedKeyForm, block.Type)
	}
}

func nameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadPublicKey reads a public key from path in the given form: "bi"
// (the default, a PUBLICKEYBLOB), "der", or "pem".
func LoadPublicKey(path, keyform string) (*PublicKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bikey: open %s: %w", path, err)
	}
	defer f.Close()
	switch keyform {
	case "", "bi":
		return ReadPublicKey(f)
	case "der":
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("bikey: read %s: %w", path, err)
		}
		return PublicKeyFromDER(data, nameFromPath(path))
	case "pem":
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("bikey: read %s: %w", path, err)
		}
		return PublicKeyFromPEM(data, nameFromPath(path))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyForm, keyform)
	}
}

// LoadPrivateKey reads a private key from path in the given form:
// "bi" (the default, a PRIVATEKEYBLOB), "der", or "pem".
func LoadPrivateKey(path, keyform string) (*PrivateKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bikey: open %s: %w", path, err)
	}
	defer f.Close()
	switch keyform {
	case "", "bi":
		return ReadPrivateKey(f)
	case "der":
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("bikey: read %s: %w", path, err)
		}
		return PrivateKeyFromDER(data, nameFromPath(path))
	case "pem":
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("bikey: read %s: %w", path, err)
		}
		return PrivateKeyFromPEM(data, nameFromPath(path))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyForm, keyform)
	}
}

// Export writes k to path as a PUBLICKEYBLOB.
func (k *PublicKey) Export(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("bikey: create %s: %w", path, err)
	}
	defer f.Close()
	return WritePublicKey(f, k)
}

// Export writes k to path as a PRIVATEKEYBLOB.
func (k *PrivateKey) Export(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("bikey: create %s: %w", path, err)
	}
	defer f.Close()
	return WritePrivateKey(f, k)
}

func (k *PublicKey) String() string {
	return fmt.Sprintf("Name            : %s\nBits            : %d\nModulus         : 0x%x\nPublic Exponent : 0x%x",
		k.Name, k.BitLength, k.Modulus, k.Exponent)
}

func (k *PrivateKey) String() string {
	return fmt.Sprintf("%s\nPrivate Exponent: 0x%x\nPrime1          : 0x%x\nPrime2          : 0x%x\nExponent1       : 0x%x\nExponent2       : 0x%x\nCoefficient     : 0x%x",
		k.PublicKey.String(), k.D, k.P, k.Q, k.Dp, k.Dq, k.QInv)
}
