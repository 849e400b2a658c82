package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Recognized filter configuration items.
const (
	ItemPlugin      = "plugin"
	ItemEnable      = "enable"
	ItemScript      = "script"
	ItemConfig      = "config"
	ItemEncodeNames = "encode_attribute_names"
)

// Attr names one attribute of a category item.
type Attr string

const (
	AttrValue       Attr = "value"
	AttrDefault     Attr = "default"
	AttrFile        Attr = "file"
	AttrType        Attr = "type"
	AttrDescription Attr = "description"
)

var ErrBadCategory = errors.New("config: malformed category")

// Category is a parsed configuration category: a JSON object mapping item
// names to attribute objects, e.g.
//
//	{"script": {"type": "script", "value": "...", "file": "/data/scripts/x.star"}}
//
// Attribute values that are not JSON strings (a JSON default such as {}) are
// kept as compact JSON text.
type Category struct {
	name  string
	items map[string]map[Attr]string
}

// ParseCategory parses a category blob.
func ParseCategory(name, blob string) (*Category, error) {
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadCategory, name, err)
	}
	c := &Category{name: name, items: make(map[string]map[Attr]string, len(raw))}
	for item, attrs := range raw {
		m := make(map[Attr]string, len(attrs))
		for k, v := range attrs {
			s, err := attrText(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s.%s: %v", ErrBadCategory, name, item, k, err)
			}
			m[Attr(k)] = s
		}
		c.items[item] = m
	}
	return c, nil
}

// NewCategory builds a category whose items carry only a value.
func NewCategory(name string, values map[string]string) *Category {
	c := &Category{name: name, items: make(map[string]map[Attr]string, len(values))}
	for k, v := range values {
		c.items[k] = map[Attr]string{AttrValue: v}
	}
	return c
}

func attrText(v json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (c *Category) Name() string { return c.name }

func (c *Category) ItemExists(item string) bool {
	_, ok := c.items[item]
	return ok
}

// Value returns the item's value, falling back to its default.
func (c *Category) Value(item string) string {
	attrs, ok := c.items[item]
	if !ok {
		return ""
	}
	if v, ok := attrs[AttrValue]; ok {
		return v
	}
	return attrs[AttrDefault]
}

func (c *Category) ItemAttribute(item string, attr Attr) (string, bool) {
	attrs, ok := c.items[item]
	if !ok {
		return "", false
	}
	v, ok := attrs[attr]
	return v, ok
}

// Items lists item names in sorted order.
func (c *Category) Items() []string {
	out := make([]string, 0, len(c.items))
	for k := range c.items {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FilterConfig is the part of a category a script filter acts on.
type FilterConfig struct {
	Enabled bool
	// EnableSet reports whether the category carried an enable item at all;
	// a reconfiguration without one keeps the current flag.
	EnableSet   bool
	ScriptRef   string
	JSONConfig  string
	EncodeNames bool
}

// FilterConfig extracts the recognized items. The script reference prefers
// the item's file attribute over its value. A missing config item yields "{}".
func (c *Category) FilterConfig() FilterConfig {
	fc := FilterConfig{JSONConfig: "{}"}
	if c.ItemExists(ItemEnable) {
		fc.EnableSet = true
		fc.Enabled = parseBool(c.Value(ItemEnable))
	}
	if c.ItemExists(ItemScript) {
		if f, ok := c.ItemAttribute(ItemScript, AttrFile); ok && f != "" {
			fc.ScriptRef = f
		} else {
			fc.ScriptRef = c.Value(ItemScript)
		}
	}
	if c.ItemExists(ItemConfig) {
		fc.JSONConfig = c.Value(ItemConfig)
	}
	fc.EncodeNames = parseBool(c.Value(ItemEncodeNames))
	return fc
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}
