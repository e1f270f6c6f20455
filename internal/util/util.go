// Package util holds the small, otherwise-homeless helpers OpenARC keeps in
// util.c / arc-util.c: timeout arithmetic for a multi-resolver wait loop, a
// structural DNS reply sanity check, CSV splitting, and ASCII lowercasing.
package util

import (
	"encoding/binary"
	"strings"
	"time"
)

// MinTimeval returns whichever of t1, t2 occurs soonest, and how long from
// now that is. t2 may be the zero Time, meaning "no second deadline" (mirrors
// arc_min_timeval's NULL t2). Ported from libopenarc/arc-util.c's
// arc_min_timeval, replacing its struct-timeval arithmetic with time.Time
// since Go callers hold deadlines that way already.
func MinTimeval(t1, t2 time.Time) (soonest time.Time, relative time.Duration) {
	next := t1
	if !t2.IsZero() && t2.Before(t1) {
		next = t2
	}
	d := time.Until(next)
	if d < 0 {
		d = 0
	}
	return next, d
}

// DNSReplyStatus is the structural verdict arc_check_dns_reply returns.
type DNSReplyStatus int

const (
	DNSReplyOK DNSReplyStatus = iota
	DNSReplyTruncated
	DNSReplyCorrupt
	DNSReplyUnusable
)

// dnsHeaderLen is the fixed 12-byte DNS message header (RFC 1035 §4.1.1).
const dnsHeaderLen = 12

// CheckDNSReply performs the structural sanity check
// arc_check_dns_reply does before a caller bothers extracting an answer's
// payload: is the message even big enough to hold a header, is the
// truncation bit set, did the server return an error rcode, is the answer
// count internally plausible. It does not decompress names or extract
// record data — the original's "extract the data" path is handled by the
// caller once this check passes.
func CheckDNSReply(msg []byte) DNSReplyStatus {
	if len(msg) < dnsHeaderLen {
		return DNSReplyCorrupt
	}

	flags := binary.BigEndian.Uint16(msg[2:4])
	truncated := flags&0x0200 != 0 // TC bit
	rcode := flags & 0x000f

	qdcount := binary.BigEndian.Uint16(msg[4:6])
	ancount := binary.BigEndian.Uint16(msg[6:8])

	if rcode != 0 {
		return DNSReplyUnusable
	}
	if qdcount == 0 && ancount == 0 {
		return DNSReplyUnusable
	}
	if truncated {
		return DNSReplyTruncated
	}
	return DNSReplyOK
}

// MkArray splits a comma-separated list the way arcf_mkarray does, dropping
// empty fields (arcf_mkarray's strtok_r collapses adjacent commas too).
func MkArray(in string) []string {
	if in == "" {
		return nil
	}
	fields := strings.Split(in, ",")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Lowercase ASCII-lowercases s, leaving non-ASCII bytes untouched (matching
// the original's byte-at-a-time tolower(), not a locale-aware fold).
func Lowercase(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
