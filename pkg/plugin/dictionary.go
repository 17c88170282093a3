package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Dictionary is the JSON-shaped view of a plugin configuration: nested
// string-keyed maps whose leaves are numbers, strings, booleans, arrays or
// null. Nested maps are plain map[string]any.
type Dictionary map[string]any

// ToDictionary projects any JSON-serializable value onto a Dictionary.
func ToDictionary(v any) (Dictionary, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var d Dictionary
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// Decode writes the dictionary into dst, which is typically a partially
// filled configuration struct. Unknown keys at any depth are rejected.
func (d Dictionary) Decode(dst any) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// Clone returns a deep copy.
func (d Dictionary) Clone() Dictionary {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Dictionary:
		return Dictionary(cloneValue(map[string]any(t)).(map[string]any))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Lookup returns the value at a dotted path such as "optimization_setting.fit_step".
func (d Dictionary) Lookup(path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, key := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPath assigns value at a dotted path. Every parent must already exist
// and be a map.
func (d Dictionary) SetPath(path string, value any) error {
	keys := strings.Split(path, ".")
	var cur any = map[string]any(d)
	for i, key := range keys {
		m, ok := asMap(cur)
		if !ok {
			return fmt.Errorf("%s is not a section", strings.Join(keys[:i], "."))
		}
		if i == len(keys)-1 {
			m[key] = value
			return nil
		}
		cur, ok = m[key]
		if !ok {
			return fmt.Errorf("unknown key %s", strings.Join(keys[:i+1], "."))
		}
	}
	return nil
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case Dictionary:
		return t, true
	case map[string]any:
		return t, true
	default:
		return nil, false
	}
}

// Paths returns the dotted paths of every leaf, sorted.
func (d Dictionary) Paths() []string {
	var out []string
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			if sub, ok := asMap(v); ok && len(sub) > 0 {
				walk(p, sub)
				continue
			}
			out = append(out, p)
		}
	}
	walk("", d)
	sort.Strings(out)
	return out
}

// Merge returns a copy of d with every leaf of overlay written over it.
// Keys of overlay missing from d are added.
func (d Dictionary) Merge(overlay Dictionary) Dictionary {
	out := d.Clone()
	if out == nil {
		out = Dictionary{}
	}
	mergeInto(out, overlay)
	return out
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := asMap(v); ok {
			if dv, ok := asMap(dst[k]); ok {
				mergeInto(dv, sv)
				continue
			}
		}
		dst[k] = cloneValue(v)
	}
}
