// Package taxonomy loads classification taxonomies and derives the four
// ordered label vocabularies the classifier trains against.
//
// Category names are matched by case-insensitive substring search
// ("type", "sender"/"identity", "context", "handler"). A dimension whose
// name never matches falls back to the first category's labels; the
// fallback is visible on the result so callers can surface mis-mapped
// taxonomies instead of training against the wrong vocabulary.
package taxonomy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hupe1980/mailclass/codec"
)

// ErrEmptyTaxonomy is returned when a taxonomy carries no categories.
var ErrEmptyTaxonomy = errors.New("taxonomy: no categories")

var validate = validator.New()

// Category is one classification dimension's vocabulary.
type Category struct {
	ID          int      `json:"id"`
	Name        string   `json:"name" validate:"required"`
	Labels      []string `json:"labels"`
	Description string   `json:"description,omitempty"`
}

// Taxonomy is the external classification scheme document.
type Taxonomy struct {
	Type       string         `json:"type,omitempty"`
	Version    string         `json:"version,omitempty"`
	Categories []Category     `json:"categories" validate:"required,min=1,dive"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Load decodes and validates a taxonomy document.
func Load(r io.Reader) (*Taxonomy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: read: %w", err)
	}

	var t Taxonomy
	if err := codec.Default.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("taxonomy: decode: %w", err)
	}

	if err := validate.Struct(&t); err != nil {
		return nil, fmt.Errorf("taxonomy: validate: %w", err)
	}

	return &t, nil
}

// LoadFile reads a taxonomy document from path.
func LoadFile(path string) (*Taxonomy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Load(f)
}

// Dimension identifies one of the four classification outputs.
type Dimension int

const (
	// DimensionType is the message type (newsletter, invoice, ...).
	DimensionType Dimension = iota
	// DimensionSender is the sender identity (known, service, ...).
	DimensionSender
	// DimensionContext is the topical context (project, travel, ...).
	DimensionContext
	// DimensionHandler is the handling action (read, respond, ...).
	DimensionHandler

	// NumDimensions is the number of classification dimensions.
	NumDimensions = 4
)

// String returns the persisted field name of the dimension.
func (d Dimension) String() string {
	switch d {
	case DimensionType:
		return "category1_type"
	case DimensionSender:
		return "category2_sender_identity"
	case DimensionContext:
		return "category3_context"
	case DimensionHandler:
		return "category4_handler"
	default:
		return fmt.Sprintf("dimension(%d)", int(d))
	}
}

// LabelSpaces holds the four ordered label vocabularies. Index position
// is the class index used by the model, so the order must survive
// persistence byte for byte.
type LabelSpaces struct {
	spaces    [NumDimensions][]string
	fallbacks [NumDimensions]bool
}

// Options contains configuration options for Resolve.
type Options struct {
	// Logger receives a warning per dimension that fell back to the
	// first category. Nil disables logging.
	Logger *slog.Logger
}

// Resolve derives the label spaces from t.
//
// Per dimension the first category whose lowercased name contains the
// dimension keyword wins. The sender dimension tries "sender" first and
// consults "identity" only when the first probe yields no labels. A
// dimension without a match uses the first category's labels and is
// flagged as a fallback. Labels are deduplicated preserving first
// occurrence.
func Resolve(t *Taxonomy, optFns ...func(o *Options)) (*LabelSpaces, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	if t == nil || len(t.Categories) == 0 {
		return nil, ErrEmptyTaxonomy
	}

	find := func(sub string) ([]string, bool) {
		for _, c := range t.Categories {
			if strings.Contains(strings.ToLower(c.Name), sub) {
				return c.Labels, true
			}
		}
		return t.Categories[0].Labels, false
	}

	ls := &LabelSpaces{}
	for d := Dimension(0); d < NumDimensions; d++ {
		var (
			labels  []string
			matched bool
		)

		switch d {
		case DimensionSender:
			labels, matched = find("sender")
			if len(labels) == 0 {
				labels, matched = find("identity")
			}
		case DimensionType:
			labels, matched = find("type")
		case DimensionContext:
			labels, matched = find("context")
		case DimensionHandler:
			labels, matched = find("handler")
		}

		ls.spaces[d] = dedup(labels)
		ls.fallbacks[d] = !matched

		if !matched && opts.Logger != nil {
			opts.Logger.Warn("label space fell back to first category",
				"dimension", d.String(),
				"category", t.Categories[0].Name,
			)
		}
	}

	return ls, nil
}

// FromLists rebuilds label spaces from persisted vocabularies, in
// dimension order. Used when loading an artifact; the stored lists are
// authoritative and are not re-derived from any taxonomy.
func FromLists(lists [NumDimensions][]string) *LabelSpaces {
	ls := &LabelSpaces{}
	for d, labels := range lists {
		ls.spaces[d] = append([]string(nil), labels...)
	}
	return ls
}

// Labels returns the vocabulary of dimension d.
func (ls *LabelSpaces) Labels(d Dimension) []string {
	return ls.spaces[d]
}

// Lists returns all four vocabularies in dimension order.
func (ls *LabelSpaces) Lists() [NumDimensions][]string {
	return ls.spaces
}

// Size returns the vocabulary size of dimension d.
func (ls *LabelSpaces) Size(d Dimension) int {
	return len(ls.spaces[d])
}

// Index maps a label string to its class index in dimension d.
// Unknown labels and empty vocabularies map to class 0; ok reports
// whether the label was actually present.
func (ls *LabelSpaces) Index(d Dimension, label string) (int, bool) {
	for i, l := range ls.spaces[d] {
		if l == label {
			return i, true
		}
	}

	return 0, false
}

// Label maps a class index back to its label string in dimension d.
// Out-of-range indexes and empty vocabularies yield "".
func (ls *LabelSpaces) Label(d Dimension, idx int) string {
	if idx < 0 || idx >= len(ls.spaces[d]) {
		return ""
	}

	return ls.spaces[d][idx]
}

// Fallback reports whether dimension d fell back to the first category
// during resolution.
func (ls *LabelSpaces) Fallback(d Dimension) bool {
	return ls.fallbacks[d]
}

// Fallbacks returns the dimensions that fell back during resolution.
func (ls *LabelSpaces) Fallbacks() []Dimension {
	var out []Dimension
	for d := Dimension(0); d < NumDimensions; d++ {
		if ls.fallbacks[d] {
			out = append(out, d)
		}
	}
	return out
}

func dedup(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}

	return out
}
