package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// globalKeys are the top-level keys that are not account tables. Their
// values are inherited by accounts that do not set them.
var globalKeys = map[string]bool{
	"display-name":         true,
	"signature":            true,
	"signature-delim":      true,
	"downloads-dir":        true,
	"folder-aliases":       true,
	"email-reading-format": true,
	"email-hooks":          true,
}

// Document is the raw, partially typed view of a configuration file:
// global values plus one table of untyped values per account.
type Document struct {
	globals  map[string]any
	accounts map[string]map[string]any
	order    []string
}

// LoadFile reads and parses a TOML configuration file.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a TOML document. Account names keep their case and
// their order of appearance.
func Parse(data []byte) (*Document, error) {
	raw := map[string]any{}
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, err
	}

	var order []string
	for _, key := range md.Keys() {
		if len(key) == 1 {
			order = append(order, key[0])
		}
	}

	return newDocument(raw, order)
}

// FromMap builds a document from already decoded values, such as the
// output of Encode. Accounts are ordered by name.
func FromMap(raw map[string]any) (*Document, error) {
	return newDocument(raw, nil)
}

func newDocument(raw map[string]any, order []string) (*Document, error) {
	doc := &Document{
		globals:  map[string]any{},
		accounts: map[string]map[string]any{},
	}

	for key, value := range raw {
		if globalKeys[key] {
			doc.globals[key] = value
			continue
		}
		table, ok := value.(map[string]any)
		if !ok {
			return nil, &Error{
				Kind:  InvalidField,
				Field: key,
				Err:   errors.New("unknown global key, accounts must be tables"),
			}
		}
		doc.accounts[key] = table
	}

	seen := map[string]bool{}
	for _, name := range order {
		if _, ok := doc.accounts[name]; ok && !seen[name] {
			doc.order = append(doc.order, name)
			seen[name] = true
		}
	}

	var rest []string
	for name := range doc.accounts {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	doc.order = append(doc.order, rest...)

	return doc, nil
}

// AccountNames returns the account names in document order.
func (d *Document) AccountNames() []string {
	return append([]string(nil), d.order...)
}

// selectAccount returns the named account, or the default one when name
// is empty: the account marked default = true, else the only account.
func (d *Document) selectAccount(name string) (string, map[string]any, error) {
	if name != "" {
		values, ok := d.accounts[name]
		if !ok {
			return "", nil, &Error{Kind: AccountNotFound, Account: name}
		}
		return name, values, nil
	}

	var defaults []string
	for _, n := range d.order {
		f := newFields(n, d.accounts[n])
		isDefault, err := f.boolean("default", false)
		if err != nil {
			return "", nil, err
		}
		if isDefault {
			defaults = append(defaults, n)
		}
	}

	switch {
	case len(defaults) == 1:
		return defaults[0], d.accounts[defaults[0]], nil
	case len(defaults) > 1:
		return "", nil, &Error{
			Kind:  InvalidField,
			Field: "default",
			Err:   fmt.Errorf("accounts %s are all marked default", strings.Join(defaults, ", ")),
		}
	case len(d.order) == 1:
		return d.order[0], d.accounts[d.order[0]], nil
	default:
		return "", nil, &Error{Kind: AccountNotFound}
	}
}

// fields is a typed accessor over one table of raw values. It records
// which keys were read so leftovers can be reported.
type fields struct {
	account string
	values  map[string]any
	used    map[string]bool
}

func newFields(account string, values map[string]any) *fields {
	if values == nil {
		values = map[string]any{}
	}
	return &fields{account: account, values: values, used: map[string]bool{}}
}

func (f *fields) lookup(key string) (any, bool) {
	v, ok := f.values[key]
	if ok {
		f.used[key] = true
	}
	return v, ok
}

func (f *fields) has(key string) bool {
	_, ok := f.values[key]
	return ok
}

func (f *fields) keysWithPrefix(prefix string) []string {
	var keys []string
	for k := range f.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (f *fields) hasPrefix(prefix string) bool {
	return len(f.keysWithPrefix(prefix)) > 0
}

func (f *fields) invalid(key, reason string) error {
	return &Error{Kind: InvalidField, Account: f.account, Field: key, Err: errors.New(reason)}
}

func (f *fields) missing(key string) error {
	return &Error{Kind: MissingRequiredField, Account: f.account, Field: key}
}

func (f *fields) str(key string) (string, bool, error) {
	v, ok := f.lookup(key)
	if !ok {
		return "", false, nil
	}
	s, isString := v.(string)
	if !isString {
		return "", true, f.invalid(key, "expected a string")
	}
	return s, true, nil
}

func (f *fields) requiredStr(key string) (string, error) {
	s, ok, err := f.str(key)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(s) == "" {
		return "", f.missing(key)
	}
	return s, nil
}

func (f *fields) boolean(key string, def bool) (bool, error) {
	v, ok := f.lookup(key)
	if !ok {
		return def, nil
	}
	b, isBool := v.(bool)
	if !isBool {
		return def, f.invalid(key, "expected a boolean")
	}
	return b, nil
}

func (f *fields) integer(key string) (int, bool, error) {
	v, ok := f.lookup(key)
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int64:
		return int(n), true, nil
	case int:
		return n, true, nil
	case float64:
		if n == math.Trunc(n) {
			return int(n), true, nil
		}
	}
	return 0, true, f.invalid(key, "expected an integer")
}

func (f *fields) strList(key string) ([]string, bool, error) {
	v, ok := f.lookup(key)
	if !ok {
		return nil, false, nil
	}
	list, err := stringList(v)
	if err != nil {
		return nil, true, f.invalid(key, err.Error())
	}
	return list, true, nil
}

func (f *fields) table(key string) (map[string]any, bool, error) {
	v, ok := f.lookup(key)
	if !ok {
		return nil, false, nil
	}
	t, isTable := v.(map[string]any)
	if !isTable {
		return nil, true, f.invalid(key, "expected a table")
	}
	return t, true, nil
}

func (f *fields) strMap(key string) (map[string]string, bool, error) {
	t, ok, err := f.table(key)
	if !ok || err != nil {
		return nil, ok, err
	}
	out := make(map[string]string, len(t))
	for k, v := range t {
		s, isString := v.(string)
		if !isString {
			return nil, true, f.invalid(key+"."+k, "expected a string")
		}
		out[k] = s
	}
	return out, true, nil
}

// unused returns the keys never read, sorted.
func (f *fields) unused() []string {
	var keys []string
	for k := range f.values {
		if !f.used[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func stringList(v any) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, errors.New("expected an array of strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, errors.New("expected an array of strings")
	}
}
