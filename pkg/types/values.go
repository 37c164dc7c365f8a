package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Values is an insertion-ordered string map. The zero value is ready to use.
// Keys are case-sensitive and an absent key means "not set".
type Values struct {
	keys []string
	m    map[string]string
}

// Get returns the value stored under key.
func (v *Values) Get(key string) (string, bool) {
	if v.m == nil {
		return "", false
	}
	val, ok := v.m[key]
	return val, ok
}

// Set stores value under key, keeping the original position of an existing key.
func (v *Values) Set(key, value string) {
	if v.m == nil {
		v.m = make(map[string]string)
	}
	if _, exists := v.m[key]; !exists {
		v.keys = append(v.keys, key)
	}
	v.m[key] = value
}

// Delete removes key if present.
func (v *Values) Delete(key string) {
	if _, exists := v.m[key]; !exists {
		return
	}
	delete(v.m, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of entries.
func (v *Values) Len() int {
	return len(v.keys)
}

// Keys returns the keys in insertion order.
func (v *Values) Keys() []string {
	keys := make([]string, len(v.keys))
	copy(keys, v.keys)
	return keys
}

// Range calls fn for every entry in insertion order.
func (v *Values) Range(fn func(key, value string)) {
	for _, k := range v.keys {
		fn(k, v.m[k])
	}
}

// Merge copies every entry of other into v.
func (v *Values) Merge(other Values) {
	other.Range(v.Set)
}

// Clone returns an independent copy.
func (v Values) Clone() Values {
	var c Values
	v.Range(c.Set)
	return c
}

// Map returns the entries as a plain map.
func (v *Values) Map() map[string]string {
	out := make(map[string]string, len(v.keys))
	v.Range(func(k, val string) { out[k] = val })
	return out
}

// MarshalJSON writes the entries as a JSON object in insertion order.
func (v Values) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range v.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(v.m[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping document order. Scalar non-string
// values are kept as their literal text; nested structures are rejected.
func (v *Values) UnmarshalJSON(data []byte) error {
	*v = Values{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("values must be a JSON object")
	}

	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("values key must be a string")
		}

		tok, err = dec.Token()
		if err != nil {
			return err
		}
		switch val := tok.(type) {
		case string:
			v.Set(key, val)
		case json.Number:
			v.Set(key, val.String())
		case bool:
			v.Set(key, fmt.Sprintf("%t", val))
		case nil:
			v.Set(key, "")
		default:
			return fmt.Errorf("value for %q must be a string", key)
		}
	}

	_, err = dec.Token()
	return err
}
