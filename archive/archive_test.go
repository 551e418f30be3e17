package archive

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-i2p/pbosign/bikey"
)

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile %s: %v", path, err)
	}
}

func generateTestKeyFile(t *testing.T, dir, name string) (privPath string) {
	t.Helper()
	std, err := rsa.GenerateKey(rand.Reader, 1024)
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

	priv := &bikey.PrivateKey{
		PublicKey: bikey.PublicKey{
			Name:      name,
			BitLength: uint32(std.N.BitLen()),
			Exponent:  uint32(std.E),
			Modulus:   std.N,
		},
		D: std.D, P: std.Primes[0], Q: std.Primes[1], Dp: dp, Dq: dq, QInv: qinv,
	}
	privPath = filepath.Join(dir, name+".biprivatekey")
	if err := priv.Export(privPath); err != nil {
		t.Fatalf("Export private key: %v", err)
	}
	return privPath
}

func TestCreateListExtractRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "init.sqf"), []byte("hint 'hi';"))
	writeFile(t, filepath.Join(src, "data", "readme.txt"), []byte("abcd"))
	writeFile(t, filepath.Join(src, prefixFileName), []byte("myAddon\n"))

	archivePath := filepath.Join(dir, "out.pbo")
	if err := Create(archivePath, []string{src}, nil, "*", "", true); err != nil {
		t.Fatalf("Create: %v", err)
	}

	names, err := List(context.Background(), archivePath, "*", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("got %d names, want 2: %v", len(names), names)
	}

	destDir := filepath.Join(dir, "extracted")
	if err := Extract(context.Background(), archivePath, destDir, "*", "", true); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(destDir, prefixFileName))
	if err != nil {
		t.Fatalf("ReadFile $PBOPREFIX$: %v", err)
	}
	if string(got) != "myAddon\n" {
		t.Errorf("$PBOPREFIX$ content = %q, want %q", got, "myAddon\n")
	}
}

func TestCreateExcludesGlob(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "keep.sqf"), []byte("x"))
	writeFile(t, filepath.Join(src, "skip.log"), []byte("y"))

	archivePath := filepath.Join(dir, "out.pbo")
	if err := Create(archivePath, []string{src}, nil, "*", "*.log", true); err != nil {
		t.Fatalf("Create: %v", err)
	}
	names, err := List(context.Background(), archivePath, "*", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("got %d names, want 1: %v", len(names), names)
	}
}

func TestSignThenVerify(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "init.sqf"), []byte("hint 'hi';"))

	archivePath := filepath.Join(dir, "out.pbo")
	if err := Create(archivePath, []string{src}, nil, "*", "", true); err != nil {
		t.Fatalf("Create: %v", err)
	}

	privPath := generateTestKeyFile(t, dir, "mykey")

	sigPath, err := Sign(privPath, archivePath, "bi", 3)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	ok, err := Verify(privPath, archivePath, sigPath, "bi", true)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("Verify returned false for a freshly created signature")
	}
}

func TestVerifyFailsAfterPayloadTamper(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "init.sqf"), []byte("hint 'hi';"))

	archivePath := filepath.Join(dir, "out.pbo")
	if err := Create(archivePath, []string{src}, nil, "*", "", true); err != nil {
		t.Fatalf("Create: %v", err)
	}
	privPath := generateTestKeyFile(t, dir, "mykey")
	sigPath, err := Sign(privPath, archivePath, "bi", 3)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	raw, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	idx := bytes.Index(raw, []byte("hint 'hi';"))
	if idx < 0 {
		t.Fatal("could not find payload bytes to tamper with")
	}
	raw[idx] ^= 0xFF
	if err := os.WriteFile(archivePath, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ok, err := Verify(privPath, archivePath, sigPath, "bi", true)
	if ok {
		t.Error("Verify returned true after tampering with payload bytes")
	}
	if err == nil {
		t.Error("Verify returned nil error after tampering, want ErrVerificationFailed")
	}
}
