package formspec

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"filingkit/internal/intake"
)

// Form identifiers used as keys of a generation result.
const (
	SS4      = "ss4"
	Articles = "articles"
)

// GenericArticles is the catalog variant used when no jurisdiction matches.
const GenericArticles = "articles-generic"

//go:embed catalog.yml
var catalogYAML []byte

// Field maps an interactive PDF field name to an intake key.
type Field struct {
	Name string `yaml:"name" json:"name"`
	Key  string `yaml:"key" json:"key"`
}

// Overlay positions an intake value on page 1 of a template, in points
// from the bottom-left corner.
type Overlay struct {
	Key   string  `yaml:"key" json:"key"`
	X     float64 `yaml:"x" json:"x"`
	Y     float64 `yaml:"y" json:"y"`
	Size  float64 `yaml:"size,omitempty" json:"size,omitempty"`
	Color string  `yaml:"color,omitempty" json:"color,omitempty"`
}

// Label is one synthesized row.
type Label struct {
	Label string `yaml:"label" json:"label"`
	Key   string `yaml:"key" json:"key"`
}

// Spec is the static description of one form variant.
type Spec struct {
	Variant       string    `yaml:"variant" json:"variant"`
	ID            string    `yaml:"id" json:"id"`
	Title         string    `yaml:"title" json:"title"`
	Filename      string    `yaml:"filename" json:"filename"`
	TemplateURL   string    `yaml:"template_url,omitempty" json:"template_url,omitempty"`
	EntityTypes   []string  `yaml:"entity_types,omitempty" json:"entity_types,omitempty"`
	Jurisdictions []string  `yaml:"jurisdictions,omitempty" json:"jurisdictions,omitempty"`
	Fields        []Field   `yaml:"fields,omitempty" json:"fields,omitempty"`
	Overlay       []Overlay `yaml:"overlay,omitempty" json:"overlay,omitempty"`
	Labels        []Label   `yaml:"labels" json:"labels"`
}

// HasTemplate reports whether the variant names a remote template.
func (s Spec) HasTemplate() bool { return strings.TrimSpace(s.TemplateURL) != "" }

// Catalog is the read-only set of known form variants.
type Catalog struct {
	specs []Spec
	byKey map[string]Spec
}

type catalogFile struct {
	Forms []Spec `yaml:"forms"`
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the embedded catalog, parsed once per process.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = FromYAML(catalogYAML)
	})
	return defaultCatalog, defaultErr
}

// MustDefault is Default for process start-up paths.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// FromYAML parses and validates a catalog.
func FromYAML(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid form catalog yaml: %w", err)
	}
	return New(f.Forms)
}

// New validates specs and indexes them by variant.
func New(specs []Spec) (*Catalog, error) {
	c := &Catalog{byKey: make(map[string]Spec, len(specs))}
	for i, s := range specs {
		if s.Variant == "" {
			return nil, fmt.Errorf("form %d: variant is required", i)
		}
		if s.ID != SS4 && s.ID != Articles {
			return nil, fmt.Errorf("form %s: unknown id %q", s.Variant, s.ID)
		}
		if s.Title == "" || s.Filename == "" {
			return nil, fmt.Errorf("form %s: title and filename are required", s.Variant)
		}
		if len(s.Labels) == 0 {
			return nil, fmt.Errorf("form %s: labels are required", s.Variant)
		}
		if _, dup := c.byKey[s.Variant]; dup {
			return nil, fmt.Errorf("form %s: duplicate variant", s.Variant)
		}
		for j, st := range s.Jurisdictions {
			s.Jurisdictions[j] = strings.ToUpper(strings.TrimSpace(st))
		}
		for j, et := range s.EntityTypes {
			s.EntityTypes[j] = intake.CanonicalEntity(et)
		}
		c.byKey[s.Variant] = s
		c.specs = append(c.specs, s)
	}
	if _, ok := c.byKey[SS4]; !ok {
		return nil, fmt.Errorf("form catalog must define variant %s", SS4)
	}
	if _, ok := c.byKey[GenericArticles]; !ok {
		return nil, fmt.Errorf("form catalog must define variant %s", GenericArticles)
	}
	return c, nil
}

// Get returns a variant by key.
func (c *Catalog) Get(variant string) (Spec, bool) {
	s, ok := c.byKey[variant]
	return s, ok
}

// List returns all variants sorted by key.
func (c *Catalog) List() []Spec {
	out := append([]Spec(nil), c.specs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Variant < out[j].Variant })
	return out
}

// Select returns the forms to generate for an intake: SS-4 always, then the
// Articles variant recognized for the entity type and state, or the
// generic Articles variant when the pair is unknown.
func (c *Catalog) Select(in intake.Intake) []Spec {
	specs := []Spec{c.byKey[SS4]}
	return append(specs, c.ArticlesFor(in.Entity(), in.Get(intake.State)))
}

// ArticlesFor resolves the Articles variant for an entity type and state.
func (c *Catalog) ArticlesFor(entity, state string) Spec {
	entity = intake.CanonicalEntity(entity)
	state = strings.ToUpper(strings.TrimSpace(state))
	for _, s := range c.specs {
		if s.ID != Articles || s.Variant == GenericArticles {
			continue
		}
		if contains(s.EntityTypes, entity) && contains(s.Jurisdictions, state) {
			return s
		}
	}
	generic := c.byKey[GenericArticles]
	if entity == "CORP" {
		generic.Title = "Articles of Incorporation"
		generic.Filename = "Articles_of_Incorporation.pdf"
	}
	return generic
}

func contains(items []string, v string) bool {
	if v == "" {
		return false
	}
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
