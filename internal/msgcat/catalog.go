// Package msgcat renders user-facing text from a YAML catalog. The catalog
// ships embedded; a deployment may layer its own files on top.
package msgcat

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed messages.en.yaml
var embedded embed.FS

var ErrTemplateNotFound = errors.New("template not found")

// entry is one catalog text plus where it was defined.
type entry struct {
	src    string
	origin string
	tpl    *template.Template
}

// Catalog maps dotted keys such as "result.checkmate" to templates.
// Templates are parsed at load time; a missing field fails the render.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New loads the embedded catalog, then every *.yaml/*.yml file in
// overrideDir in name order. Two override files may not set the same key.
func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]*entry)}
	if err := c.load(embedded, "messages.en.yaml", true); err != nil {
		return nil, err
	}
	dir := strings.TrimSpace(overrideDir)
	if dir == "" {
		return c, nil
	}
	fsys := os.DirFS(dir)
	names, err := overrideFiles(fsys)
	if err != nil {
		return nil, fmt.Errorf("read template dir: %w", err)
	}
	for _, name := range names {
		if err := c.load(fsys, name, false); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustDefault returns the embedded catalog and panics if it does not parse.
func MustDefault() *Catalog {
	c, err := New("")
	if err != nil {
		panic(err)
	}
	return c
}

func overrideFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		switch strings.ToLower(path.Ext(e.Name())) {
		case ".yaml", ".yml":
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// load merges one file. Base entries may be replaced by overrides; an
// override may not replace another override.
func (c *Catalog) load(fsys fs.FS, name string, base bool) error {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	texts := make(map[string]string)
	if len(doc.Content) > 0 {
		if err := walk(doc.Content[0], nil, texts); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
	}

	origin := path.Base(name)
	if base {
		origin = ""
	}
	parsed := make(map[string]*entry, len(texts))
	for key, src := range texts {
		tpl, err := template.New(key).Option("missingkey=error").Parse(src)
		if err != nil {
			return fmt.Errorf("%s: key %s: %w", name, key, err)
		}
		parsed[key] = &entry{src: src, origin: origin, tpl: tpl}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range parsed {
		if prev, ok := c.entries[key]; ok && !base && prev.origin != "" {
			return fmt.Errorf("duplicate override key %q in %s and %s", key, prev.origin, origin)
		}
	}
	for key, e := range parsed {
		c.entries[key] = e
	}
	return nil
}

// walk collects scalar leaves of a mapping tree under dotted keys.
func walk(n *yaml.Node, prefix []string, out map[string]string) error {
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := append(append([]string(nil), prefix...), n.Content[i].Value)
			if err := walk(n.Content[i+1], key, out); err != nil {
				return err
			}
		}
		return nil
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return nil
		}
		if len(prefix) == 0 {
			return fmt.Errorf("line %d: text without a key", n.Line)
		}
		out[strings.Join(prefix, ".")] = n.Value
		return nil
	case yaml.AliasNode:
		return walk(n.Alias, prefix, out)
	default:
		return fmt.Errorf("line %d: %s must be a string", n.Line, strings.Join(prefix, "."))
	}
}

// Render executes the template stored under key.
func (c *Catalog) Render(key string, data any) (string, error) {
	key = strings.TrimSpace(key)
	c.mu.RLock()
	e := c.entries[key]
	c.mu.RUnlock()
	if e == nil || strings.TrimSpace(e.src) == "" {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, key)
	}
	var b strings.Builder
	if err := e.tpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Text renders key and returns fallback on any error.
func (c *Catalog) Text(key string, data any, fallback string) string {
	if c == nil {
		return fallback
	}
	s, err := c.Render(key, data)
	if err != nil {
		return fallback
	}
	return s
}

// Has reports whether key is present.
func (c *Catalog) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key] != nil
}
