// Package sighash computes the three SHA-1 digests a .bisign
// signature covers: a checksum of the archive's own bytes, a hash of
// its sorted lowercased member names, and a version-dependent hash of
// a filtered subset of its member content.
package sighash

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-i2p/pbosign/pbo"
)

// ErrSignatureVersionUnsupported is returned for any version other
// than the two the legacy signer recognises, 2 and 3.
var ErrSignatureVersionUnsupported = errors.New("sighash: unsupported signature version")

// version2Excluded lists extensions skipped from the filehash for
// .bisign version 2; version3Included lists the only extensions
// included for version 3. Both lists are compared case-insensitively.
var version2Excluded = []string{
	".paa", ".jpg", ".p3d", ".tga", ".rvmat", ".lip", ".ogg", ".wss",
	".png", ".rtm", ".pac", ".fxy", ".wrp",
}

var version3Included = []string{
	".sqf", ".inc", ".bikb", ".ext", ".fsm", ".sqm", ".hpp", ".cfg", ".sqs", ".h",
}

func participatesInFileHash(filename string, dataSize uint32, version int) (bool, error) {
	if dataSize == 0 {
		return false, nil
	}
	lower := strings.ToLower(filename)
	switch version {
	case 2:
		for _, suf := range version2Excluded {
			if strings.HasSuffix(lower, suf) {
				return false, nil
			}
		}
		return true, nil
	case 3:
		for _, suf := range version3Included {
			if strings.HasSuffix(lower, suf) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: %d", ErrSignatureVersionUnsupported, version)
	}
}

// NameHash returns the SHA-1 of every non-empty member's lowercased
// filename, concatenated in ascending sorted order.
func NameHash(f *pbo.File) ([20]byte, error) {
	names := append([]string(nil), f.Entries.Keys()...)
	sort.Slice(names, func(i, j int) bool {
		li, lj := strings.ToLower(names[i]), strings.ToLower(names[j])
		if li != lj {
			return li < lj
		}
		return names[i] < names[j]
	})
	h := sha1.New()
	for _, name := range names {
		e, _ := f.Entries.Get(name)
		size, err := e.EffectiveDataSize()
		if err != nil {
			return [20]byte{}, err
		}
		if size == 0 {
			continue
		}
		h.Write([]byte(strings.ToLower(name)))
	}
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// FileHash returns the SHA-1 over the concatenated content of every
// member that participates in the given signature version's filter,
// in the archive's stored order. If no member participates, the
// version's literal sentinel string stands in for the hash input.
func FileHash(f *pbo.File, version int) ([20]byte, error) {
	h := sha1.New()
	any := false
	for _, name := range f.Entries.Keys() {
		e, _ := f.Entries.Get(name)
		size, err := e.EffectiveDataSize()
		if err != nil {
			return [20]byte{}, err
		}
		ok, err := participatesInFileHash(name, size, version)
		if err != nil {
			return [20]byte{}, err
		}
		if !ok {
			continue
		}
		any = true
		m, err := e.Open()
		if err != nil {
			return [20]byte{}, err
		}
		_, err = io.Copy(h, io.LimitReader(m, int64(size)))
		closeErr := m.Close()
		if err != nil {
			return [20]byte{}, fmt.Errorf("sighash: reading %s: %w", name, err)
		}
		if closeErr != nil {
			return [20]byte{}, closeErr
		}
	}
	if !any {
		switch version {
		case 2:
			h.Write([]byte("nothing"))
		case 3:
			h.Write([]byte("gnihton"))
		default:
			return [20]byte{}, fmt.Errorf("%w: %d", ErrSignatureVersionUnsupported, version)
		}
	}
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Compute returns the three digests a .bisign signature is built
// from: hash1 over the archive's own bytes, hash2 combining hash1
// with the namehash (and the $PBOPREFIX$ value, if any), and hash3
// doing the same with the filehash in place of hash1.
func Compute(f *pbo.File, version int) (hash1, hash2, hash3 [20]byte, err error) {
	hash1, err = f.Hash1()
	if err != nil {
		return
	}
	nameHash, err := NameHash(f)
	if err != nil {
		return [20]byte{}, [20]byte{}, [20]byte{}, err
	}
	prefix, hasPrefix := f.HeaderExtension.Get("prefix")

	h2 := sha1.New()
	h2.Write(hash1[:])
	h2.Write(nameHash[:])
	if hasPrefix {
		h2.Write([]byte(prefix))
		h2.Write([]byte{'\\'})
	}
	copy(hash2[:], h2.Sum(nil))

	fileHash, err := FileHash(f, version)
	if err != nil {
		return [20]byte{}, [20]byte{}, [20]byte{}, err
	}
	h3 := sha1.New()
	h3.Write(fileHash[:])
	h3.Write(nameHash[:])
	if hasPrefix {
		h3.Write([]byte(prefix))
		h3.Write([]byte{'\\'})
	}
	copy(hash3[:], h3.Sum(nil))

	return hash1, hash2, hash3, nil
}
