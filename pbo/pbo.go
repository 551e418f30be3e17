// Package pbo reads and writes PBO archives: a flat, header-indexed
// container format used to ship a tree of files as a single blob with
// a trailing SHA-1 checksum over its own body.
package pbo

import (
	"bufio"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-i2p/pbosign/internal/asciiz"
	"github.com/go-i2p/pbosign/internal/orderedmap"
)

// ErrMalformedPBO is returned when a PBO's structure cannot be parsed.
var ErrMalformedPBO = errors.New("pbo: malformed archive")

// ErrDuplicateMember is returned when an archive's index, or a caller
// adding a file, names the same member twice.
var ErrDuplicateMember = errors.New("pbo: duplicate member name")

// ChunkSize bounds how much payload data is copied per Read/Write
// call while streaming a member, keeping memory use flat regardless
// of archive size.
const ChunkSize = 1 << 16

// HeaderPrefix is the five little-endian u32 fields carried by the
// archive's empty-name leading record.
type HeaderPrefix struct {
	PackingMethod uint32
	OriginalSize  uint32
	Reserved      uint32
	// Timestamp is an unsigned 32-bit Unix time; times from 2106-02-07
	// on wrap and are stored truncated, matching the on-disk format.
	Timestamp uint32
	DataSize  uint32
}

// Source describes where a member's payload bytes come from.
type Source interface{ isSource() }

// ArchivedSource is a member whose bytes live inside an already-open
// PBO, at a known offset.
type ArchivedSource struct {
	File   *os.File
	Offset int64
	Size   int64
}

func (ArchivedSource) isSource() {}

// ExternalSource is a member whose bytes will be read from a file on
// disk at write time; its size and timestamp are resolved lazily via
// fstat rather than tracked ahead of time.
type ExternalSource struct {
	Path string
}

func (ExternalSource) isSource() {}

// Entry is one member's index record plus its payload source.
type Entry struct {
	Filename      string
	PackingMethod uint32
	OriginalSize  uint32
	Reserved      uint32
	// Timestamp is an unsigned 32-bit Unix time; times from 2106-02-07
	// on wrap and are stored truncated, matching the on-disk format.
	Timestamp uint32
	DataSize  uint32
	Source    Source
}

// EffectiveDataSize returns the size that will be recorded for this
// entry if the archive is written now: the stored size for an
// archived entry, or a live fstat for an external one.
func (e *Entry) EffectiveDataSize() (uint32, error) {
	if ext, ok := e.Source.(ExternalSource); ok {
		info, err := os.Stat(ext.Path)
		if err != nil {
			return 0, fmt.Errorf("pbo: stat %s: %w", ext.Path, err)
		}
		return uint32(info.Size()), nil
	}
	return e.DataSize, nil
}

// Open returns a Member reading this entry's payload.
func (e *Entry) Open() (*Member, error) {
	switch s := e.Source.(type) {
	case ArchivedSource:
		return &Member{ra: s.File, base: s.Offset, size: s.Size}, nil
	case ExternalSource:
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, fmt.Errorf("pbo: open %s: %w", s.Path, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("pbo: stat %s: %w", s.Path, err)
		}
		return &Member{ra: f, base: 0, size: info.Size(), closeFn: f.Close}, nil
	default:
		return nil, fmt.Errorf("pbo: entry %s has no payload source", e.Filename)
	}
}

// File is a parsed or in-progress PBO archive.
type File struct {
	HeaderPrefix    HeaderPrefix
	HeaderExtension *orderedmap.Map[string, string]
	Entries         *orderedmap.Map[string, *Entry]
	backing         *os.File
}

// New returns an empty archive ready to have members Added and then
// be written out with WriteTo.
func New() *File {
	return &File{
		HeaderExtension: orderedmap.New[string, string](),
		Entries:         orderedmap.New[string, *Entry](),
	}
}

// NormalizeName converts an OS-native path into the backslash-
// separated form PBO stores internally.
func NormalizeName(name string) string {
	return strings.ReplaceAll(name, string(os.PathSeparator), "\\")
}

// DenormalizeName converts a stored backslash-separated name back
// into an OS-native relative path.
func DenormalizeName(name string) string {
	return strings.ReplaceAll(name, "\\", string(os.PathSeparator))
}

// Add registers path as a member under name (normalized to PBO's
// backslash separator), to be read from disk when the archive is
// written.
func (f *File) Add(name, path string) error {
	norm := NormalizeName(name)
	if _, exists := f.Entries.Get(norm); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMember, norm)
	}
	f.Entries.Set(norm, &Entry{Filename: norm, Source: ExternalSource{Path: path}})
	return nil
}

// Member returns a Member for the named entry.
func (f *File) Member(name string) (*Member, error) {
	e, ok := f.Entries.Get(name)
	if !ok {
		return nil, fmt.Errorf("pbo: no such member: %s", name)
	}
	return e.Open()
}

// Close releases the backing file handle, if any.
func (f *File) Close() error {
	if f.backing != nil {
		return f.backing.Close()
	}
	return nil
}

// Open opens the PBO archive at path and parses its index.
func Open(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pbo: open %s: %w", path, err)
	}
	pf, err := OpenReader(fh)
	if err != nil {
		fh.Close()
		return nil, err
	}
	return pf, nil
}

// OpenReader parses a PBO archive's header and index from fh, which
// must support seeking; fh is retained as the backing handle for
// member reads and is closed by (*File).Close.
func OpenReader(fh *os.File) (*File, error) {
	br := bufio.NewReader(fh)

	if _, err := asciiz.Read(br); err != nil {
		return nil, fmt.Errorf("%w: leading record name: %v", ErrMalformedPBO, err)
	}
	var prefix [5]uint32
	if err := binary.Read(br, binary.LittleEndian, &prefix); err != nil {
		return nil, fmt.Errorf("%w: header prefix: %v", ErrMalformedPBO, err)
	}

	headerExt := orderedmap.New[string, string]()
	for {
		k, err := asciiz.Read(br)
		if err != nil {
			return nil, fmt.Errorf("%w: header extension key: %v", ErrMalformedPBO, err)
		}
		if len(k) == 0 {
			break
		}
		v, err := asciiz.Read(br)
		if err != nil {
			return nil, fmt.Errorf("%w: header extension value: %v", ErrMalformedPBO, err)
		}
		headerExt.Set(string(k), string(v))
	}

	entries := orderedmap.New[string, *Entry]()
	for {
		name, err := asciiz.Read(br)
		if err != nil {
			return nil, fmt.Errorf("%w: entry name: %v", ErrMalformedPBO, err)
		}
		if len(name) == 0 {
			break
		}
		var fields [5]uint32
		if err := binary.Read(br, binary.LittleEndian, &fields); err != nil {
			return nil, fmt.Errorf("%w: entry record %q: %v", ErrMalformedPBO, name, err)
		}
		filename := string(name)
		if _, exists := entries.Get(filename); exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMember, filename)
		}
		entries.Set(filename, &Entry{
			Filename:      filename,
			PackingMethod: fields[0],
			OriginalSize:  fields[1],
			Reserved:      fields[2],
			Timestamp:     fields[3],
			DataSize:      fields[4],
		})
	}

	var reserved [20]byte
	if _, err := io.ReadFull(br, reserved[:]); err != nil {
		return nil, fmt.Errorf("%w: trailing reserved block: %v", ErrMalformedPBO, err)
	}

	// br may have buffered past the index into the payload region;
	// subtract what it holds unread from the real file position so
	// offsets below are exact.
	consumed, err := fh.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("pbo: seek: %w", err)
	}
	buffered := br.Buffered()
	dataOffset := consumed - int64(buffered)

	for _, name := range entries.Keys() {
		e, _ := entries.Get(name)
		e.Source = ArchivedSource{File: fh, Offset: dataOffset, Size: int64(e.DataSize)}
		dataOffset += int64(e.DataSize)
	}

	return &File{
		HeaderPrefix: HeaderPrefix{
			PackingMethod: prefix[0], OriginalSize: prefix[1], Reserved: prefix[2],
			Timestamp: prefix[3], DataSize: prefix[4],
		},
		HeaderExtension: headerExt,
		Entries:         entries,
		backing:         fh,
	}, nil
}

// Hash1 returns the SHA-1 checksum over the archive's own body: for
// an archive loaded from disk, the hash of every byte before the
// trailing NUL+digest; for one assembled in memory, the hash that
// would be produced by writing it out now.
func (f *File) Hash1() ([20]byte, error) {
	if f.backing != nil {
		return f.hash1FromBacking()
	}
	return f.hash1FromWrite()
}

func (f *File) hash1FromBacking() ([20]byte, error) {
	info, err := f.backing.Stat()
	if err != nil {
		return [20]byte{}, fmt.Errorf("pbo: stat: %w", err)
	}
	end := info.Size() - 21
	if end < 0 {
		return [20]byte{}, fmt.Errorf("%w: archive shorter than its trailer", ErrMalformedPBO)
	}
	if _, err := f.backing.Seek(0, io.SeekStart); err != nil {
		return [20]byte{}, fmt.Errorf("pbo: seek: %w", err)
	}
	h := sha1.New()
	if _, err := io.CopyN(h, f.backing, end); err != nil {
		return [20]byte{}, fmt.Errorf("pbo: hash1: %w", err)
	}
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

func (f *File) hash1FromWrite() ([20]byte, error) {
	h := sha1.New()
	if err := f.writeBody(h); err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// WriteTo serialises the archive to w: header prefix, header
// extension, sorted member index, payload in sorted filename order,
// then the trailing NUL + SHA-1 of everything just written.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	h := sha1.New()
	cw := &countingWriter{w: io.MultiWriter(w, h)}
	if err := f.writeBody(cw); err != nil {
		return cw.n, err
	}
	sum := h.Sum(nil)
	trailer := append([]byte{0}, sum...)
	n2, err := w.Write(trailer)
	return cw.n + int64(n2), err
}

func (f *File) writeBody(w io.Writer) error {
	if err := asciiz.Write(w, nil); err != nil {
		return err
	}
	prefix := [5]uint32{
		f.HeaderPrefix.PackingMethod, f.HeaderPrefix.OriginalSize,
		f.HeaderPrefix.Reserved, f.HeaderPrefix.Timestamp, f.HeaderPrefix.DataSize,
	}
	if err := binary.Write(w, binary.LittleEndian, prefix); err != nil {
		return err
	}

	for _, k := range f.HeaderExtension.Keys() {
		v, _ := f.HeaderExtension.Get(k)
		if err := asciiz.Write(w, []byte(k)); err != nil {
			return err
		}
		if err := asciiz.Write(w, []byte(v)); err != nil {
			return err
		}
	}
	if err := asciiz.Write(w, nil); err != nil {
		return err
	}

	names := append([]string(nil), f.Entries.Keys()...)
	sort.Strings(names)

	for _, name := range names {
		e, _ := f.Entries.Get(name)
		size, ts, err := e.resolveSizeAndTimestamp()
		if err != nil {
			return err
		}
		if err := asciiz.Write(w, []byte(e.Filename)); err != nil {
			return err
		}
		fields := [5]uint32{e.PackingMethod, e.OriginalSize, e.Reserved, ts, size}
		if err := binary.Write(w, binary.LittleEndian, fields); err != nil {
			return err
		}
	}
	if err := asciiz.Write(w, nil); err != nil {
		return err
	}
	var reserved [20]byte
	if _, err := w.Write(reserved[:]); err != nil {
		return err
	}

	for _, name := range names {
		e, _ := f.Entries.Get(name)
		if err := e.streamPayload(w); err != nil {
			return err
		}
	}
	return nil
}

func (e *Entry) resolveSizeAndTimestamp() (size, ts uint32, err error) {
	if ext, ok := e.Source.(ExternalSource); ok {
		f, err := os.Open(ext.Path)
		if err != nil {
			return 0, 0, fmt.Errorf("pbo: open %s: %w", ext.Path, err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return 0, 0, fmt.Errorf("pbo: stat %s: %w", ext.Path, err)
		}
		return uint32(info.Size()), uint32(info.ModTime().Unix()), nil
	}
	return e.DataSize, e.Timestamp, nil
}

func (e *Entry) streamPayload(w io.Writer) error {
	m, err := e.Open()
	if err != nil {
		return err
	}
	defer m.Close()
	buf := make([]byte, ChunkSize)
	_, err = io.CopyBuffer(w, m, buf)
	return err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Member is a read/seek view over one entry's payload bytes.
type Member struct {
	ra      io.ReadSeeker
	base    int64
	size    int64
	pos     int64
	closeFn func() error
}

// Read implements io.Reader, repositioning the shared backing handle
// before each call; concurrent use of two Members over the same
// backing file requires external synchronization.
func (m *Member) Read(p []byte) (int, error) {
	if _, err := m.ra.Seek(m.base+m.pos, io.SeekStart); err != nil {
		return 0, err
	}
	remaining := m.size - m.pos
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := m.ra.Read(p)
	m.pos += int64(n)
	return n, err
}

// Seek implements io.Seeker over the member's own [0, size) range.
func (m *Member) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = m.pos + offset
	case io.SeekEnd:
		abs = m.size + offset
	default:
		return 0, errors.New("pbo: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("pbo: negative seek position")
	}
	m.pos = abs
	return abs, nil
}

// Tell returns the member's current read position.
func (m *Member) Tell() int64 { return m.pos }

// Close releases any file handle the Member opened for itself.
func (m *Member) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	return nil
}
