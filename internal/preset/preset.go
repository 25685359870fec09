package preset

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Field string

const (
	FieldRepo   Field = "repo"
	FieldPath   Field = "path"
	FieldPrompt Field = "prompt"
)

// Form holds the user-supplied inputs for a preset, keyed by field.
type Form map[Field]string

type Preset struct {
	ID          string  `yaml:"id"`
	Title       string  `yaml:"title"`
	Description string  `yaml:"description"`
	Required    []Field `yaml:"required"`
	Optional    []Field `yaml:"optional"`
}

type ValidationError struct {
	Preset string
	Field  Field
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("preset %q: %s", e.Preset, e.Reason)
	}
	return fmt.Sprintf("preset %q: %s %s", e.Preset, e.Field, e.Reason)
}

// Validate checks that every required field is present and non-blank.
func (p Preset) Validate(form Form) error {
	for _, f := range p.Required {
		if strings.TrimSpace(form[f]) == "" {
			return &ValidationError{Preset: p.ID, Field: f, Reason: "is required"}
		}
	}
	return nil
}

// Fields lists the inputs the preset accepts, required ones first.
func (p Preset) Fields() []Field {
	return append(append([]Field(nil), p.Required...), p.Optional...)
}

// Context builds the run payload context from the non-empty form fields the
// preset declares. Other fields are dropped.
func (p Preset) Context(form Form) map[string]string {
	ctx := make(map[string]string, len(p.Required)+len(p.Optional))
	for _, f := range p.Fields() {
		if v := strings.TrimSpace(form[f]); v != "" {
			ctx[string(f)] = v
		}
	}
	return ctx
}

func Defaults() []Preset {
	return []Preset{
		{
			ID:          "structure",
			Title:       "Analyze file structure",
			Description: "Fetch the repository tree and summarize its layout.",
			Required:    []Field{FieldRepo},
			Optional:    []Field{FieldPrompt},
		},
		{
			ID:          "file",
			Title:       "Analyze file",
			Description: "Fetch one file from the repository and review it.",
			Required:    []Field{FieldRepo, FieldPath},
			Optional:    []Field{FieldPrompt},
		},
		{
			ID:          "plan",
			Title:       "Plan",
			Description: "Draft an implementation plan from a prompt.",
			Required:    []Field{FieldPrompt},
		},
		{
			ID:          "brainstorm",
			Title:       "Brainstorm",
			Description: "Free-form ideas without repository context.",
			Required:    []Field{FieldPrompt},
		},
	}
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// Load reads a catalog file. Entries override built-in presets with the same id.
func Load(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf presetFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, err
	}
	merged := map[string]Preset{}
	for _, p := range Defaults() {
		merged[p.ID] = p
	}
	for _, p := range pf.Presets {
		if p.ID == "" {
			continue
		}
		if p.Title == "" {
			p.Title = p.ID
		}
		merged[p.ID] = p
	}
	out := make([]Preset, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type Catalog struct {
	order   []string
	presets map[string]Preset
}

func NewCatalog(presets []Preset) *Catalog {
	c := &Catalog{presets: make(map[string]Preset, len(presets))}
	for _, p := range presets {
		if _, dup := c.presets[p.ID]; !dup {
			c.order = append(c.order, p.ID)
		}
		c.presets[p.ID] = p
	}
	return c
}

// LoadCatalog returns the default catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(Defaults()), nil
	}
	presets, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load presets: %w", err)
	}
	return NewCatalog(presets), nil
}

func (c *Catalog) Lookup(id string) (Preset, bool) {
	p, ok := c.presets[id]
	return p, ok
}

func (c *Catalog) List() []Preset {
	out := make([]Preset, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.presets[id])
	}
	return out
}

// Validate resolves the preset and checks the form against it.
func (c *Catalog) Validate(id string, form Form) (Preset, error) {
	p, ok := c.Lookup(id)
	if !ok {
		return Preset{}, &ValidationError{Preset: id, Reason: "unknown preset"}
	}
	if err := p.Validate(form); err != nil {
		return Preset{}, err
	}
	return p, nil
}
