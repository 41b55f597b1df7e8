// Package notes holds the note entry model and the JSON document codec
// shared by every content store backend.
package notes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrMalformed reports a stored document that is not a JSON array of entries.
var ErrMalformed = errors.New("malformed notes document")

// Entry is a single note in a document. Members other than title and
// approved are kept in Extra and written back untouched.
type Entry struct {
	Title    string
	Approved bool
	Extra    map[string]json.RawMessage
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	if members == nil {
		return errors.New("entry is null")
	}
	var entry Entry
	if raw, ok := members["title"]; ok {
		if err := json.Unmarshal(raw, &entry.Title); err != nil {
			return fmt.Errorf("title: %w", err)
		}
		delete(members, "title")
	}
	if raw, ok := members["approved"]; ok {
		if err := json.Unmarshal(raw, &entry.Approved); err != nil {
			return fmt.Errorf("approved: %w", err)
		}
		delete(members, "approved")
	}
	if len(members) > 0 {
		entry.Extra = members
	}
	*e = entry
	return nil
}

// MarshalJSON writes title and approved first, then Extra in key order.
func (e Entry) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"title":`)
	if err := writeValue(&buf, e.Title); err != nil {
		return nil, err
	}
	buf.WriteString(`,"approved":`)
	if err := writeValue(&buf, e.Approved); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(e.Extra))
	for key := range e.Extra {
		if key == "title" || key == "approved" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		buf.WriteByte(',')
		if err := writeValue(&buf, key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		buf.Write(e.Extra[key])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1)
	return nil
}

// Decode parses a stored document. A literal null decodes to an empty list.
func Decode(data []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	var entries []Entry
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Encode renders entries the way they are committed: a two-space indented
// JSON array without HTML escaping, `[]` when empty.
func Encode(entries []Entry) ([]byte, error) {
	if len(entries) == 0 {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(entries); err != nil {
		return nil, fmt.Errorf("encode notes: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Append returns a new slice holding entries followed by entry. The input
// slice is never written to.
func Append(entries []Entry, entry Entry) []Entry {
	next := make([]Entry, 0, len(entries)+1)
	next = append(next, entries...)
	return append(next, entry)
}

// Approved projects the approved entries, keeping document order.
func Approved(entries []Entry) []Entry {
	result := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Approved {
			result = append(result, entry)
		}
	}
	return result
}
