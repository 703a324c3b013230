package order

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Long note keys
const (
	NoteKeyPackingStatus = "packing_status"
	NoteKeyPacker        = "nguoi_goi"
	NoteKeyTimePacking   = "time_packing"
	NoteKeyCarrier       = "dvvc"
	NoteKeyShopeeID      = "shopee_id"
	NoteKeyTimePrint     = "time_print"
	NoteKeySplit         = "split"
	NoteKeyShipDate      = "shipdate"
	NoteKeyTimeSorting   = "time_chia"
	NoteKeySorter        = "nguoi_chia"
	NoteKeyReceiveCancel = "receive_cancel"
)

// noteShortKeys maps long keys to the short keys stored remotely.
// This table is an external wire format.
var noteShortKeys = map[string]string{
	NoteKeyPackingStatus: "pks",
	NoteKeyPacker:        "human",
	NoteKeyTimePacking:   "tgoi",
	NoteKeyCarrier:       "vc",
	NoteKeyShopeeID:      "spid",
	NoteKeyTimePrint:     "tin",
	NoteKeySplit:         "sp",
	NoteKeyShipDate:      "sd",
	NoteKeyTimeSorting:   "tc",
	NoteKeySorter:        "nc",
	NoteKeyReceiveCancel: "rc",
}

var noteLongKeys = func() map[string]string {
	m := make(map[string]string, len(noteShortKeys))
	for long, short := range noteShortKeys {
		m[short] = long
	}
	return m
}()

// ErrNoteNotObject is returned when a note is not a JSON object
var ErrNoteNotObject = errors.New("order: shipment note is not a JSON object")

// ShortNoteKey returns the remote key for a long key; unknown keys pass through
func ShortNoteKey(long string) string {
	if short, ok := noteShortKeys[long]; ok {
		return short
	}
	return long
}

// LongNoteKey returns the long key for a remote key; unknown keys pass through
func LongNoteKey(short string) string {
	if long, ok := noteLongKeys[short]; ok {
		return long
	}
	return short
}

// Note is an insertion-ordered key/value dictionary over long keys.
// Values are kept as raw JSON so unknown fields survive a round trip.
type Note struct {
	keys   []string
	values map[string]json.RawMessage
}

// NewNote returns an empty note
func NewNote() *Note {
	return &Note{values: make(map[string]json.RawMessage)}
}

// Len returns the number of keys
func (n *Note) Len() int {
	return len(n.keys)
}

// Keys returns the long keys in insertion order
func (n *Note) Keys() []string {
	return append([]string(nil), n.keys...)
}

// Has reports whether key is present
func (n *Note) Has(key string) bool {
	_, ok := n.values[key]
	return ok
}

// Raw returns the raw JSON value for key
func (n *Note) Raw(key string) (json.RawMessage, bool) {
	v, ok := n.values[key]
	return v, ok
}

// Set stores value under key. Existing keys keep their position.
func (n *Note) Set(key string, value any) error {
	raw, err := marshalCompact(value)
	if err != nil {
		return fmt.Errorf("order: encode note value %q: %w", key, err)
	}
	n.setRaw(key, raw)
	return nil
}

func (n *Note) setRaw(key string, raw json.RawMessage) {
	if _, ok := n.values[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.values[key] = raw
}

// Delete removes key
func (n *Note) Delete(key string) {
	if _, ok := n.values[key]; !ok {
		return
	}
	delete(n.values, key)
	for i, k := range n.keys {
		if k == key {
			n.keys = append(n.keys[:i], n.keys[i+1:]...)
			break
		}
	}
}

// String returns a string value, or "" when absent or not a string
func (n *Note) String(key string) string {
	raw, ok := n.values[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Int returns an integer value, or 0 when absent or not a number
func (n *Note) Int(key string) int64 {
	raw, ok := n.values[key]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	return int64(f)
}

// Equal reports whether two notes hold the same keys, order and values
func (n *Note) Equal(other *Note) bool {
	if n.Len() != other.Len() {
		return false
	}
	for i, k := range n.keys {
		if other.keys[i] != k || !bytes.Equal(n.values[k], other.values[k]) {
			return false
		}
	}
	return true
}

// Compact serializes the note with short keys and no whitespace.
// Non-ASCII text is written literally.
func (n *Note) Compact() (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range n.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalCompact(ShortNoteKey(k))
		if err != nil {
			return "", err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(n.values[k])
	}
	buf.WriteByte('}')
	return string(unescapeLineSeparators(buf.Bytes())), nil
}

// ExpandNote parses a remote note and expands short keys. Key order is
// preserved. An empty note yields an empty Note.
func ExpandNote(s string) (*Note, error) {
	note := NewNote()
	if strings.TrimSpace(s) == "" {
		return note, nil
	}

	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoteNotObject, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, ErrNoteNotObject
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoteNotObject, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, ErrNoteNotObject
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoteNotObject, err)
		}
		compacted, err := compactRaw(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoteNotObject, err)
		}
		note.setRaw(LongNoteKey(key), compacted)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoteNotObject, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after object", ErrNoteNotObject)
	}
	return note, nil
}

// ParseNoteLenient expands a note and treats anything that is not a JSON
// object as an empty note, which is how free-text notes written by staff
// are handled.
func ParseNoteLenient(s string) *Note {
	if !strings.Contains(s, "{") {
		return NewNote()
	}
	note, err := ExpandNote(s)
	if err != nil {
		return NewNote()
	}
	return note
}

func marshalCompact(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// unescapeLineSeparators writes U+2028 and U+2029 literally, as the notes
// stored by the web app have them. encoding/json always escapes both.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		switch string(b[i+1 : min(i+6, len(b))]) {
		case "u2028":
			out = append(out, "\u2028"...)
			i += 5
		case "u2029":
			out = append(out, "\u2029"...)
			i += 5
		default:
			out = append(out, b[i], b[i+1])
			i++
		}
	}
	return out
}

func compactRaw(raw json.RawMessage) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
