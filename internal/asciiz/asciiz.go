// Package asciiz reads and writes NUL-terminated byte strings, the
// prevailing string encoding inside PBO and BI-format key records.
package asciiz

import "io"

// Read consumes bytes from r up to and including the first NUL byte,
// returning everything before it. An empty result means the very first
// byte read was NUL.
func Read(r io.Reader) ([]byte, error) {
	var buf []byte
	one := make([]byte, 1)
	for {
		n, err := r.Read(one)
		if n == 1 {
			if one[0] == 0 {
				return buf, nil
			}
			buf = append(buf, one[0])
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// Write emits s followed by a terminating NUL byte.
func Write(w io.Writer, s []byte) error {
	if _, err := w.Write(s); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}
