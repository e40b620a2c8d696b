package generic

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Descriptor is a parsed connection descriptor: key/value parameters handed
// to the backend driver.
type Descriptor map[string]any

// ParseDescriptor reads a connection descriptor written as a JSON or YAML
// mapping.
func ParseDescriptor(text string) (Descriptor, error) {
	if strings.TrimSpace(text) == "" {
		return Descriptor{}, nil
	}
	var m map[string]any
	if err := yaml.Unmarshal([]byte(text), &m); err != nil {
		return nil, fmt.Errorf("connection descriptor: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("connection descriptor: not a key/value mapping")
	}
	return Descriptor(m), nil
}

var keyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Mapping reads text as a connection mapping. ok is false for driver-native
// strings (URL, keyword/value, DSN), which either fail to decode as a YAML
// mapping or decode to keys no driver option has. Text opening a JSON object
// must parse.
func Mapping(text string) (d Descriptor, ok bool, err error) {
	t := strings.TrimSpace(text)
	if t == "" {
		return nil, false, nil
	}
	d, err = ParseDescriptor(t)
	if err != nil {
		if strings.HasPrefix(t, "{") {
			return nil, false, err
		}
		return nil, false, nil
	}
	for k := range d {
		if !keyRe.MatchString(k) {
			return nil, false, nil
		}
	}
	return d, true, nil
}

// Pop removes key and returns its value as a string.
func (d Descriptor) Pop(key string) (string, bool) {
	v, ok := d[key]
	if !ok {
		return "", false
	}
	delete(d, key)
	return d.str(v), true
}

// String returns the value of key as a string.
func (d Descriptor) String(key string) (string, bool) {
	v, ok := d[key]
	if !ok {
		return "", false
	}
	return d.str(v), true
}

// Keys returns the keys in sorted order.
func (d Descriptor) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d Descriptor) str(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
