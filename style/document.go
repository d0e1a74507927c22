package style

import (
	"fmt"
	"io"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/mapstyle-bridge/errors"
)

// Document is the YAML form of a style.
type Document struct {
	Name    string      `yaml:"name"`
	Sources []SourceDoc `yaml:"sources"`
	Pending []SourceDoc `yaml:"pending"`
}

// SourceDoc describes one source.
type SourceDoc struct {
	Attribution *string `yaml:"attribution,omitempty"`
	ID          string  `yaml:"id"`
	Kind        string  `yaml:"kind"`
}

// Decode parses and validates a YAML document.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "decode style document")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate reports every problem in the document at once.
// IDs must be non-empty and unique across sources and pending entries.
func (d *Document) Validate() error {
	var err error
	seen := make(map[string]string)

	check := func(section string, i int, sd SourceDoc) {
		where := fmt.Sprintf("%s[%d]", section, i)
		if sd.ID == "" {
			err = multierr.Append(err, errors.InvalidInput(errors.PhaseLoad, where+": id cannot be empty"))
			return
		}
		if prev, dup := seen[sd.ID]; dup {
			err = multierr.Append(err, errors.New(errors.PhaseLoad, errors.KindConflict).
				Source(sd.ID).
				Detail("%s duplicates %s", where, prev).
				Build())
		} else {
			seen[sd.ID] = where
		}
		if _, ok := ParseKind(sd.Kind); !ok {
			err = multierr.Append(err, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				Source(sd.ID).
				Detail("%s: unknown kind %q", where, sd.Kind).
				Build())
		}
	}

	for i, sd := range d.Sources {
		check("sources", i, sd)
	}
	for i, sd := range d.Pending {
		check("pending", i, sd)
	}
	return err
}

// NewSource builds the Source described by sd.
func (sd SourceDoc) NewSource() *Source {
	kind, _ := ParseKind(sd.Kind)
	opts := []SourceOption{WithKind(kind)}
	if sd.Attribution != nil {
		opts = append(opts, WithAttribution(*sd.Attribution))
	}
	return NewSource(sd.ID, opts...)
}

// Load builds a style that owns every source listed under Sources.
func Load(d *Document, opts ...Option) (*Style, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	s := New(append([]Option{WithName(d.Name)}, opts...)...)
	for _, sd := range d.Sources {
		if err := s.AddSource(sd.NewSource()); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}
