// Package id provides identifier helpers: nanoid generation for action
// and event ids, filesystem-safe ref escaping, and adapter-namespace
// id expansion.
package id

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Generate returns a 16-character nanoid using an alphanumeric alphabet (A-Za-z0-9).
func Generate() string {
	id, err := gonanoid.Generate("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789", 16)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return id
}

const upperhex = "0123456789ABCDEF"

// EscapeRef percent-encodes ref into a filesystem-safe form. The
// encoding matches JavaScript's encodeURIComponent so refs written by
// earlier controller generations map to the same archive paths:
// unreserved characters A-Za-z0-9 - _ . ! ~ * ' ( ) pass through,
// everything else becomes %XX per UTF-8 byte.
func EscapeRef(ref string) string {
	var b strings.Builder
	b.Grow(len(ref))
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0f])
	}
	return b.String()
}

// UnescapeRef reverses EscapeRef. Malformed escapes are passed through
// verbatim rather than failing; refs are produced by EscapeRef, so this
// only matters for hand-edited files.
func UnescapeRef(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi, ok1 := unhex(s[i+1])
			lo, ok2 := unhex(s[i+2])
			if ok1 && ok2 {
				b.WriteByte(hi<<4 | lo)
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// Namespace expands short ids into fully qualified host-runtime ids.
// A namespace is the adapter instance prefix, e.g. "msghub.0".
type Namespace string

// ToFullID prefixes ownID with the namespace unless it already carries it.
func (n Namespace) ToFullID(ownID string) string {
	if n == "" || strings.HasPrefix(ownID, string(n)+".") {
		return ownID
	}
	return string(n) + "." + ownID
}

// ToOwnID strips the namespace prefix from fullID if present.
func (n Namespace) ToOwnID(fullID string) string {
	if n == "" {
		return fullID
	}
	return strings.TrimPrefix(fullID, string(n)+".")
}
