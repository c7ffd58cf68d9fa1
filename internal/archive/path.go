// Package archive maintains the per-ref append-only event log: JSONL
// files segmented by local ISO-week, with per-ref batching, weekly
// retention and structural diff computation for patch events.
package archive

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/msghub/msghub/internal/id"
)

// DefaultMaxPathSegmentLength bounds one path segment's byte length.
// Escaped refs can blow past filesystem limits (ENAMETOOLONG), so
// longer segments are replaced by a truncated prefix plus a stable
// short hash.
const DefaultMaxPathSegmentLength = 120

// segmentExt is the archive file extension.
const segmentExt = "jsonl"

// instanceHead matches a leading "<name>.<digits>" plugin-instance
// compound, which stays one path segment despite its dot.
var instanceHead = regexp.MustCompile(`^[^.]+\.\d+`)

// refSegments splits an escaped ref into path segments: split on ".",
// except a leading "<name>.<digits>" compound is kept whole.
func refSegments(escapedRef string) []string {
	rest := escapedRef
	var segs []string
	if head := instanceHead.FindString(escapedRef); head != "" {
		segs = append(segs, head)
		rest = strings.TrimPrefix(escapedRef[len(head):], ".")
	}
	if rest != "" {
		segs = append(segs, strings.Split(rest, ".")...)
	}
	if len(segs) == 0 {
		segs = []string{escapedRef}
	}
	return segs
}

// boundSegment caps one segment at maxLen bytes. Over-long segments
// become "<prefix>~<sha1Short>"; the hash input includes the full ref
// key and the segment's index so identical refs always map to the same
// path and sibling segments never collide.
func boundSegment(refKey string, index int, seg string, maxLen int) string {
	if len(seg) <= maxLen {
		return seg
	}
	sum := sha1.Sum([]byte(fmt.Sprintf("%s\x00%d\x00%s", refKey, index, seg)))
	suffix := "~" + hex.EncodeToString(sum[:5])
	keep := maxLen - len(suffix)
	if keep < 1 {
		keep = 1
	}
	return seg[:keep] + suffix
}

// SegmentPath builds the slash-separated archive file path for a ref
// and week key: .../<lastSegment>.<weekKey>.jsonl under the escaped,
// dot-split, length-bounded ref segments.
func SegmentPath(ref, weekKey string, maxSegLen int) string {
	if maxSegLen <= 0 {
		maxSegLen = DefaultMaxPathSegmentLength
	}
	escaped := id.EscapeRef(ref)
	segs := refSegments(escaped)
	for i, s := range segs {
		segs[i] = boundSegment(escaped, i, s, maxSegLen)
	}
	last := len(segs) - 1
	segs[last] = fmt.Sprintf("%s.%s.%s", segs[last], weekKey, segmentExt)
	return strings.Join(segs, "/")
}

// refDir returns the directory part of a ref's segment paths and the
// bounded base name segment files start with.
func refDir(ref string, maxSegLen int) (dir, base string) {
	if maxSegLen <= 0 {
		maxSegLen = DefaultMaxPathSegmentLength
	}
	escaped := id.EscapeRef(ref)
	segs := refSegments(escaped)
	for i, s := range segs {
		segs[i] = boundSegment(escaped, i, s, maxSegLen)
	}
	last := len(segs) - 1
	return strings.Join(segs[:last], "/"), segs[last]
}

// parseSegmentName extracts the week key from "<base>.<YYYYMMDD>.jsonl".
// Legacy files that don't match the segmented layout yield ok=false
// and are left alone by retention.
func parseSegmentName(name, base string) (weekKey string, ok bool) {
	prefix := base + "."
	suffix := "." + segmentExt
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return "", false
	}
	key := name[len(prefix) : len(name)-len(suffix)]
	if len(key) != 8 {
		return "", false
	}
	for _, c := range key {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return key, true
}
