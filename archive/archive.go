// Package archive ties the pbo, bikey, sighash, and bisign packages
// together into the operations the CLI exposes: create, list,
// extract, sign, and verify. It owns crash-safe writing (write to a
// temp file, then rename) and the $PBOPREFIX$/glob conventions around
// archive membership.
package archive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-i2p/pbosign/bikey"
	"github.com/go-i2p/pbosign/bisign"
	"github.com/go-i2p/pbosign/pbo"
	"github.com/go-i2p/pbosign/sighash"
)

const prefixFileName = "$PBOPREFIX$"

func matchGlob(name, include, exclude string) (bool, error) {
	lower := strings.ToLower(name)
	if include == "" {
		include = "*"
	}
	inc, err := filepath.Match(strings.ToLower(include), lower)
	if err != nil {
		return false, fmt.Errorf("archive: bad include pattern %q: %w", include, err)
	}
	if !inc {
		return false, nil
	}
	if exclude != "" {
		exc, err := filepath.Match(strings.ToLower(exclude), lower)
		if err != nil {
			return false, fmt.Errorf("archive: bad exclude pattern %q: %w", exclude, err)
		}
		if exc {
			return false, nil
		}
	}
	return true, nil
}

func firstLine(data []byte) string {
	line := strings.SplitN(string(data), "\n", 2)[0]
	return strings.TrimRight(line, "\r")
}

func writeAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".pbosign-*.tmp")
	if err != nil {
		return fmt.Errorf("archive: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()
	bw := bufio.NewWriter(tmp)
	if err = write(bw); err != nil {
		return fmt.Errorf("archive: write: %w", err)
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("archive: flush: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("archive: close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("archive: rename into place: %w", err)
	}
	return nil
}

// Create packs files (a mix of plain files and directories) into a
// new PBO archive at archivePath. Directories are expanded in a
// breadth-first walk when recurse is true. A member named
// $PBOPREFIX$ is not packed; its first line becomes the archive's
// "prefix" header extension instead. Include/exclude are
// case-insensitive shell globs applied to each candidate's path in its
// stored, backslash-separated form (the name List and Extract match).
func Create(archivePath string, files []string, headerExt map[string]string, include, exclude string, recurse bool) error {
	pf := pbo.New()
	queue := append([]string(nil), files...)
	for i := 0; i < len(queue); i++ {
		path := queue[i]
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("archive: create: stat %s: %w", path, err)
		}
		if info.IsDir() {
			if !recurse {
				continue
			}
			entries, err := os.ReadDir(path)
			if err != nil {
				return fmt.Errorf("archive: create: read dir %s: %w", path, err)
			}
			for _, de := range entries {
				queue = append(queue, filepath.Join(path, de.Name()))
			}
			continue
		}
		if filepath.Base(path) == prefixFileName {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("archive: create: read %s: %w", path, err)
			}
			pf.HeaderExtension.Set("prefix", firstLine(data))
			continue
		}
		matched, err := matchGlob(pbo.NormalizeName(path), include, exclude)
		if err != nil {
			return err
		}
		if !matched {
			continue
		}
		if err := pf.Add(path, path); err != nil {
			return fmt.Errorf("archive: create: %w", err)
		}
	}
	for k, v := range headerExt {
		pf.HeaderExtension.Set(k, v)
	}
	return writeAtomic(archivePath, func(w io.Writer) error {
		_, err := pf.WriteTo(w)
		return err
	})
}

// List returns the names of members matching include/exclude.
func List(ctx context.Context, archivePath, include, exclude string) ([]string, error) {
	pf, err := pbo.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer pf.Close()
	var names []string
	for _, name := range pf.Entries.Keys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matched, err := matchGlob(name, include, exclude)
		if err != nil {
			return nil, err
		}
		if matched {
			names = append(names, name)
		}
	}
	return names, nil
}

// Extract unpacks members matching include/exclude into destDir,
// recreating directories as needed. When withPrefixFile is true and
// the archive carries a "prefix" header extension, a $PBOPREFIX$ file
// is also written into destDir.
func Extract(ctx context.Context, archivePath, destDir, include, exclude string, withPrefixFile bool) error {
	pf, err := pbo.Open(archivePath)
	if err != nil {
		return err
	}
	defer pf.Close()

	if withPrefixFile {
		if prefix, ok := pf.HeaderExtension.Get("prefix"); ok {
			p := filepath.Join(destDir, prefixFileName)
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return fmt.Errorf("archive: extract: mkdir %s: %w", filepath.Dir(p), err)
			}
			if err := os.WriteFile(p, []byte(prefix+"\n"), 0o644); err != nil {
				return fmt.Errorf("archive: extract: write %s: %w", p, err)
			}
		}
	}

	for _, name := range pf.Entries.Keys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		matched, err := matchGlob(name, include, exclude)
		if err != nil {
			return err
		}
		if !matched {
			continue
		}
		e, _ := pf.Entries.Get(name)
		dst := filepath.Join(destDir, pbo.DenormalizeName(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("archive: extract: mkdir %s: %w", filepath.Dir(dst), err)
		}
		if err := extractOne(ctx, e, dst); err != nil {
			return err
		}
	}
	return nil
}

// extractOne streams e's payload to dst in pbo.ChunkSize pieces,
// checking ctx between chunks so a large member's copy aborts
// promptly instead of running to completion once started.
func extractOne(ctx context.Context, e *pbo.Entry, dst string) error {
	m, err := e.Open()
	if err != nil {
		return fmt.Errorf("archive: extract: open member %s: %w", e.Filename, err)
	}
	defer m.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("archive: extract: create %s: %w", dst, err)
	}
	defer out.Close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := io.CopyN(out, m, pbo.ChunkSize)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("archive: extract: write %s: %w", dst, err)
		}
	}
}

// Info prints the archive's header extension key/value pairs to w.
func Info(w io.Writer, archivePath string) error {
	pf, err := pbo.Open(archivePath)
	if err != nil {
		return err
	}
	defer pf.Close()
	keys := pf.HeaderExtension.Keys()
	if len(keys) == 0 {
		return nil
	}
	width := 0
	for _, k := range keys {
		if len(k) > width {
			width = len(k)
		}
	}
	for _, k := range keys {
		v, _ := pf.HeaderExtension.Get(k)
		fmt.Fprintf(w, "%-*s: %s\n", width, k, v)
	}
	return nil
}

// Sign signs pboPath with the private key at keyPath (in the given
// keyform: "bi", "der", or "pem") under the given signature version,
// writing "<base>.<keyname>.bisign" next to pboPath and returning its
// path.
func Sign(keyPath, pboPath, keyform string, version int) (string, error) {
	priv, err := bikey.LoadPrivateKey(keyPath, keyform)
	if err != nil {
		return "", fmt.Errorf("archive: sign: %w", err)
	}
	pf, err := pbo.Open(pboPath)
	if err != nil {
		return "", fmt.Errorf("archive: sign: %w", err)
	}
	defer pf.Close()

	hash1, hash2, hash3, err := sighash.Compute(pf, version)
	if err != nil {
		return "", fmt.Errorf("archive: sign: %w", err)
	}
	sig1, err := bisign.Sign(priv, hash1)
	if err != nil {
		return "", fmt.Errorf("archive: sign: %w", err)
	}
	sig2, err := bisign.Sign(priv, hash2)
	if err != nil {
		return "", fmt.Errorf("archive: sign: %w", err)
	}
	sig3, err := bisign.Sign(priv, hash3)
	if err != nil {
		return "", fmt.Errorf("archive: sign: %w", err)
	}

	sigFile := &bisign.File{
		PublicKey: &priv.PublicKey,
		Sig1:      sig1, Sig2: sig2, Sig3: sig3,
		Version: uint32(version),
	}
	outPath := fmt.Sprintf("%s.%s.bisign", pboPath, priv.Name)
	if err := writeAtomic(outPath, sigFile.WriteTo); err != nil {
		return "", fmt.Errorf("archive: sign: %w", err)
	}
	return outPath, nil
}

// Verify checks a .bisign file at sigPath against pboPath, using
// either a public key (privin=false) or deriving the public key from
// a private key (privin=true) at keyPath. It returns ok=false,
// err=bisign.ErrVerificationFailed when the signature is
// well-formed but does not match; any other error is an I/O or
// structural failure.
func Verify(keyPath, pboPath, sigPath, keyform string, privin bool) (bool, error) {
	var pub *bikey.PublicKey
	if privin {
		priv, err := bikey.LoadPrivateKey(keyPath, keyform)
		if err != nil {
			return false, fmt.Errorf("archive: verify: %w", err)
		}
		pub = &priv.PublicKey
	} else {
		p, err := bikey.LoadPublicKey(keyPath, keyform)
		if err != nil {
			return false, fmt.Errorf("archive: verify: %w", err)
		}
		pub = p
	}

	sf, err := os.Open(sigPath)
	if err != nil {
		return false, fmt.Errorf("archive: verify: open %s: %w", sigPath, err)
	}
	defer sf.Close()
	sig, err := bisign.ReadFile(sf)
	if err != nil {
		return false, fmt.Errorf("archive: verify: %w", err)
	}

	pf, err := pbo.Open(pboPath)
	if err != nil {
		return false, fmt.Errorf("archive: verify: %w", err)
	}
	defer pf.Close()

	hash1, hash2, hash3, err := sighash.Compute(pf, int(sig.Version))
	if err != nil {
		return false, fmt.Errorf("archive: verify: %w", err)
	}
	ok1, err := bisign.Verify(pub, hash1, sig.Sig1)
	if err != nil {
		return false, fmt.Errorf("archive: verify: %w", err)
	}
	ok2, err := bisign.Verify(pub, hash2, sig.Sig2)
	if err != nil {
		return false, fmt.Errorf("archive: verify: %w", err)
	}
	ok3, err := bisign.Verify(pub, hash3, sig.Sig3)
	if err != nil {
		return false, fmt.Errorf("archive: verify: %w", err)
	}

	if ok1 && ok2 && ok3 {
		return true, nil
	}
	return false, bisign.ErrVerificationFailed
}
