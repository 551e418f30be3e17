package bikey

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"testing"
)

// generateTestKey builds a small RSA key and returns both the stdlib
// form and the equivalent bikey.PrivateKey with CRT components filled
// in, so round-trip tests don't need a real BI-format fixture on disk.
func generateTestKey(t *testing.T, bits int) (*rsa.PrivateKey, *PrivateKey) {
	t.Helper()
	std, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	std.Precompute()

	one := big.NewInt(1)
	pMinus1 := new(big.Int).Sub(std.Primes[0], one)
	qMinus1 := new(big.Int).Sub(std.Primes[1], one)
	dp := new(big.Int).Mod(std.D, pMinus1)
	dq := new(big.Int).Mod(std.D, qMinus1)
	qinv := new(big.Int).ModInverse(std.Primes[1], std.Primes[0])

	pk := &PrivateKey{
		PublicKey: PublicKey{
			Name:      "testkey",
			BitLength: uint32(std.N.BitLen()),
			Exponent:  uint32(std.E),
			Modulus:   std.N,
		},
		D: std.D, P: std.Primes[0], Q: std.Primes[1], Dp: dp, Dq: dq, QInv: qinv,
	}
	return std, pk
}

func TestPublicKeyRoundTrip(t *testing.T) {
	_, priv := generateTestKey(t, 1024)
	var buf bytes.Buffer
	if err := WritePublicKey(&buf, &priv.PublicKey); err != nil {
		t.Fatalf("WritePublicKey: %v", err)
	}
	got, err := ReadPublicKey(&buf)
	if err != nil {
		t.Fatalf("ReadPublicKey: %v", err)
	}
	if got.Name != priv.Name || got.BitLength != priv.BitLength || got.Exponent != priv.Exponent {
		t.Errorf("got %+v, want name/bitlen/exp matching %+v", got, priv.PublicKey)
	}
	if got.Modulus.Cmp(priv.Modulus) != 0 {
		t.Errorf("modulus mismatch after round trip")
	}
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	_, priv := generateTestKey(t, 1024)
	var buf bytes.Buffer
	if err := WritePrivateKey(&buf, priv); err != nil {
		t.Fatalf("WritePrivateKey: %v", err)
	}
	got, err := ReadPrivateKey(&buf)
	if err != nil {
		t.Fatalf("ReadPrivateKey: %v", err)
	}
	for name, pair := range map[string][2]*big.Int{
		"modulus": {got.Modulus, priv.Modulus},
		"d":       {got.D, priv.D},
		"p":       {got.P, priv.P},
		"q":       {got.Q, priv.Q},
		"dp":      {got.Dp, priv.Dp},
		"dq":      {got.Dq, priv.Dq},
		"qinv":    {got.QInv, priv.QInv},
	} {
		if pair[0].Cmp(pair[1]) != 0 {
			t.Errorf("%s mismatch after round trip: got %x, want %x", name, pair[0], pair[1])
		}
	}
}

func TestReadPublicKeyRejectsWrongMagic(t *testing.T) {
	_, priv := generateTestKey(t, 1024)
	var buf bytes.Buffer
	if err := WritePrivateKey(&buf, priv); err != nil {
		t.Fatalf("WritePrivateKey: %v", err)
	}
	if _, err := ReadPublicKey(&buf); err == nil {
		t.Fatal("ReadPublicKey accepted a PRIVATEKEYBLOB, want error")
	}
}

func TestPublicKeyFromPEM(t *testing.T) {
	std, _ := generateTestKey(t, 1024)
	der, err := x509.MarshalPKIXPublicKey(&std.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	pub, err := PublicKeyFromPEM(block, "imported")
	if err != nil {
		t.Fatalf("PublicKeyFromPEM: %v", err)
	}
	if pub.Modulus.Cmp(std.N) != 0 {
		t.Errorf("modulus mismatch")
	}
	if pub.Exponent != uint32(std.E) {
		t.Errorf("exponent = %d, want %d", pub.Exponent, std.E)
	}
}

func TestPrivateKeyFromPKCS1PEM(t *testing.T) {
	std, _ := generateTestKey(t, 1024)
	der := x509.MarshalPKCS1PrivateKey(std)
	block := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
	priv, err := PrivateKeyFromPEM(block, "imported")
	if err != nil {
		t.Fatalf("PrivateKeyFromPEM: %v", err)
	}
	if priv.Modulus.Cmp(std.N) != 0 || priv.D.Cmp(std.D) != 0 {
		t.Errorf("key fields mismatch after PKCS#1 PEM import")
	}
}

func TestPrivateKeyFromPKCS8PEM(t *testing.T) {
	std, _ := generateTestKey(t, 1024)
	der, err := x509.MarshalPKCS8PrivateKey(std)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	priv, err := PrivateKeyFromPEM(block, "imported")
	if err != nil {
		t.Fatalf("PrivateKeyFromPEM: %v", err)
	}
	if priv.Modulus.Cmp(std.N) != 0 || priv.D.Cmp(std.D) != 0 {
		t.Errorf("key fields mismatch after PKCS#8 PEM import")
	}
}

func TestPrivateKeyFromPEMRejectsUnsupportedType(t *testing.T) {
	block := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: []byte{0x30, 0x00}})
	if _, err := PrivateKeyFromPEM(block, "imported"); err == nil {
		t.Fatal("PrivateKeyFromPEM accepted an EC PRIVATE KEY block, want error")
	}
}
