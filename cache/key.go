package cache

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Key identifies one cacheable resource.
//
// A Key is either a single string or an ordered tuple of JSON primitives.
// Nested slices and string-keyed maps are allowed; maps are canonicalized by
// sorted key, so logically equal inputs always produce the same identity.
// The single string "posts" and the tuple ["posts"] are the same key.
//
// The zero Key is invalid and never produced by NewKey.
type Key struct {
	id    string
	parts []string
	label string
}

// NewKey normalizes parts into a Key.
//
// A single []any or []string argument is treated as the tuple itself, so
// NewKey("posts", 1) and NewKey([]any{"posts", 1}) are equal. A single Key
// argument is returned unchanged. Errors are always *StaleKeyError.
func NewKey(parts ...any) (Key, error) {
	if len(parts) == 1 {
		switch v := parts[0].(type) {
		case Key:
			if v.id == "" {
				return Key{}, &StaleKeyError{Key: v, Err: ErrInvalidKey}
			}
			return v, nil
		case []any:
			parts = v
		case []string:
			expanded := make([]any, len(v))
			for i, s := range v {
				expanded[i] = s
			}
			parts = expanded
		}
	}

	if len(parts) == 0 {
		return Key{}, &StaleKeyError{Key: parts, Err: ErrInvalidKey}
	}

	if len(parts) == 1 {
		if s, ok := parts[0].(string); ok {
			if err := ValidateKey(s); err != nil {
				return Key{}, &StaleKeyError{Key: s, Err: err}
			}
		}
	}

	encoded := make([]string, len(parts))
	for i, p := range parts {
		b, err := canonicalize(reflect.ValueOf(p))
		if err != nil {
			return Key{}, &StaleKeyError{Key: parts, Err: err}
		}
		encoded[i] = string(b)
	}

	id := "[" + strings.Join(encoded, ",") + "]"
	if len(id) > MaxKeyLength {
		return Key{}, &StaleKeyError{Key: parts, Err: ErrKeyTooLong}
	}

	label := id
	if len(parts) == 1 {
		if s, ok := parts[0].(string); ok {
			label = s
		}
	}

	return Key{id: id, parts: encoded, label: label}, nil
}

// MustKey is like NewKey but panics on error. Intended for literals.
func MustKey(parts ...any) Key {
	k, err := NewKey(parts...)
	if err != nil {
		panic(err)
	}
	return k
}

// ID returns the canonical identity string (a JSON array).
func (k Key) ID() string {
	return k.id
}

// String returns the bare string for single-string keys and the canonical
// JSON array otherwise.
func (k Key) String() string {
	return k.label
}

// IsZero reports whether k is the invalid zero Key.
func (k Key) IsZero() bool {
	return k.id == ""
}

// Len returns the number of tuple parts.
func (k Key) Len() int {
	return len(k.parts)
}

// Equal reports whether two keys identify the same resource.
func (k Key) Equal(other Key) bool {
	return k.id == other.id
}

// HasPrefix reports whether prefix's parts are a leading run of k's parts.
// ["posts"] is a prefix of ["posts", 1] and of itself.
func (k Key) HasPrefix(prefix Key) bool {
	if prefix.IsZero() || len(prefix.parts) > len(k.parts) {
		return false
	}
	for i, p := range prefix.parts {
		if k.parts[i] != p {
			return false
		}
	}
	return true
}

// canonicalize produces a deterministic JSON encoding of a key part.
// Only JSON primitives, slices/arrays and string-keyed maps are accepted.
func canonicalize(v reflect.Value) ([]byte, error) {
	if !v.IsValid() {
		return []byte("null"), nil
	}

	switch v.Kind() {
	case reflect.String:
		return json.Marshal(v.String())

	case reflect.Bool:
		return strconv.AppendBool(nil, v.Bool()), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.AppendInt(nil, v.Int(), 10), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.AppendUint(nil, v.Uint(), 10), nil

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, ErrUnserializableKey
		}
		return json.Marshal(f)

	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return []byte("null"), nil
		}
		return canonicalize(v.Elem())

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return []byte("null"), nil
		}
		return canonicalizeSlice(v)

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, ErrUnserializableKey
		}
		return canonicalizeMap(v)

	default:
		return nil, ErrUnserializableKey
	}
}

func canonicalizeMap(m reflect.Value) ([]byte, error) {
	// Sort keys
	keys := make([]string, 0, m.Len())
	for _, k := range m.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m.MapIndex(reflect.ValueOf(k).Convert(m.Type().Key())))
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')
	return result, nil
}

func canonicalizeSlice(s reflect.Value) ([]byte, error) {
	result := []byte("[")
	for i := 0; i < s.Len(); i++ {
		if i > 0 {
			result = append(result, ',')
		}
		valBytes, err := canonicalize(s.Index(i))
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')
	return result, nil
}
