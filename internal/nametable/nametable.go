// Package nametable implements the bidirectional name/code lookup used
// for protocol tokens: signing algorithms, canonicalizations, AR method
// and result keywords. Modeled on OpenARC's arc-nametable.c, where a
// table is a NULL-terminated array of (name, code) pairs and the final
// entry's code is the "not found" sentinel.
package nametable

import "strings"

// Entry is one (name, code) pair.
type Entry struct {
	Name string
	Code int
}

// Table is an ordered list of entries plus the sentinel code returned
// when a lookup misses.
type Table struct {
	entries []Entry
	notFound int
}

// New builds a Table from entries. notFound is returned by CodeOf on a
// miss and must not equal any entry's Code.
func New(notFound int, entries ...Entry) *Table {
	return &Table{entries: entries, notFound: notFound}
}

// CodeOf looks up name case-insensitively, returning the table's
// not-found sentinel on a miss.
func (t *Table) CodeOf(name string) int {
	for _, e := range t.entries {
		if strings.EqualFold(e.Name, name) {
			return e.Code
		}
	}
	return t.notFound
}

// NameOf looks up code exactly, returning "" on a miss.
func (t *Table) NameOf(code int) string {
	for _, e := range t.entries {
		if e.Code == code {
			return e.Name
		}
	}
	return ""
}

// NotFound returns the sentinel code for this table.
func (t *Table) NotFound() int {
	return t.notFound
}
