package pbo

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile %s: %v", path, err)
	}
	return path
}

func TestCreateWriteOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	aPath := writeTempFile(t, dir, "a.txt", []byte("hello"))
	bPath := writeTempFile(t, dir, "b.sqf", []byte("diag hint;"))

	f := New()
	f.HeaderExtension.Set("prefix", "test\\addon")
	if err := f.Add("a.txt", aPath); err != nil {
		t.Fatalf("Add a.txt: %v", err)
	}
	if err := f.Add("sub\\b.sqf", bPath); err != nil {
		t.Fatalf("Add b.sqf: %v", err)
	}

	archivePath := filepath.Join(dir, "out.pbo")
	out, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.WriteTo(out); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	out.Close()

	opened, err := Open(archivePath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer opened.Close()

	if got, ok := opened.HeaderExtension.Get("prefix"); !ok || got != "test\\addon" {
		t.Errorf("prefix = %q, %v, want \"test\\\\addon\", true", got, ok)
	}

	names := opened.Entries.Keys()
	if len(names) != 2 {
		t.Fatalf("got %d entries, want 2", len(names))
	}

	m, err := opened.Member("a.txt")
	if err != nil {
		t.Fatalf("Member a.txt: %v", err)
	}
	data, err := io.ReadAll(m)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("a.txt content = %q, want %q", data, "hello")
	}
	m.Close()

	m2, err := opened.Member("sub\\b.sqf")
	if err != nil {
		t.Fatalf("Member sub\\b.sqf: %v", err)
	}
	data2, err := io.ReadAll(m2)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data2) != "diag hint;" {
		t.Errorf("b.sqf content = %q, want %q", data2, "diag hint;")
	}
	m2.Close()
}

func TestAddDuplicateNameFails(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "a.txt", []byte("x"))
	f := New()
	if err := f.Add("a.txt", path); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := f.Add("a.txt", path); err == nil {
		t.Fatal("Add duplicate name succeeded, want error")
	}
}

func TestOpenRejectsDuplicateEntriesInIndex(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	buf.WriteByte(0)
	write5u32(&buf, [5]uint32{})
	writeASCIIZDirect(&buf, "") // empty header extension
	writeASCIIZDirect(&buf, "dup")
	write5u32(&buf, [5]uint32{0, 0, 0, 0, 0})
	writeASCIIZDirect(&buf, "dup")
	write5u32(&buf, [5]uint32{0, 0, 0, 0, 0})
	writeASCIIZDirect(&buf, "") // end of entries
	buf.Write(make([]byte, 20))

	path := filepath.Join(dir, "dup.pbo")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("Open accepted an index with a duplicate member name, want error")
	}
}

func TestMemberSeek(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "a.txt", []byte("0123456789"))
	f := New()
	if err := f.Add("a.txt", path); err != nil {
		t.Fatalf("Add: %v", err)
	}
	m, err := f.Member("a.txt")
	if err != nil {
		t.Fatalf("Member: %v", err)
	}
	if _, err := m.Seek(5, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got := make([]byte, 3)
	if _, err := io.ReadFull(m, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(got) != "567" {
		t.Errorf("got %q, want %q", got, "567")
	}
	if m.Tell() != 8 {
		t.Errorf("Tell() = %d, want 8", m.Tell())
	}
}

func write5u32(buf *bytes.Buffer, fields [5]uint32) {
	for _, v := range fields {
		b := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
		buf.Write(b)
	}
}

func writeASCIIZDirect(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
}
