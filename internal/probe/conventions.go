package probe

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/clipforge/pkg/models"
	"gopkg.in/yaml.v3"
)

// DefaultTemplate is the output naming convention shared by the providers:
// the first output of a job is written next to its reference id.
const DefaultTemplate = "{base}/{ref}_output_{index}.{ext}"

// Convention describes where a provider writes the artifact for one operation kind.
type Convention struct {
	// Base overrides the global base URL for this kind.
	Base string `yaml:"base"`
	Ext  string `yaml:"ext"`
	// Templates are tried in order; the first existing candidate wins.
	Templates []string `yaml:"templates"`
	// Outputs is how many {index} values to try per template. Defaults to 1.
	Outputs int `yaml:"outputs"`
}

// Conventions maps every operation kind to its naming convention.
type Conventions struct {
	BaseURL string                              `yaml:"base_url"`
	Kinds   map[models.OperationKind]Convention `yaml:"kinds"`
}

var defaultExt = map[models.OperationKind]string{
	models.OpSynthesizeSpeech: "mp3",
	models.OpGenerateMusic:    "mp3",
	models.OpCombineMedia:     "mp4",
	models.OpConcatenateMedia: "mp4",
	models.OpGenerateVideo:    "mp4",
}

// DefaultConventions returns the built-in conventions rooted at baseURL.
func DefaultConventions(baseURL string) *Conventions {
	c := &Conventions{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Kinds:   make(map[models.OperationKind]Convention, len(defaultExt)),
	}
	for kind, ext := range defaultExt {
		c.Kinds[kind] = Convention{Ext: ext, Templates: []string{DefaultTemplate}, Outputs: 1}
	}
	return c
}

// LoadConventions reads conventions from a YAML file and layers them over the
// defaults. An empty path returns the defaults.
//
//	base_url: https://media.example.com/outputs
//	kinds:
//	  combine_media:
//	    templates:
//	      - "{base}/{ref}_output_{index}.{ext}"
//	      - "{base}/{ref}/final.{ext}"
func LoadConventions(path, baseURL string) (*Conventions, error) {
	conv := DefaultConventions(baseURL)
	if path == "" {
		return conv, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading probe conventions: %w", err)
	}

	var file Conventions
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing probe conventions %s: %w", path, err)
	}

	if file.BaseURL != "" {
		conv.BaseURL = strings.TrimRight(file.BaseURL, "/")
	}
	for kind, override := range file.Kinds {
		if !kind.Valid() {
			return nil, fmt.Errorf("probe conventions %s: unknown operation kind %q", path, kind)
		}
		merged := conv.Kinds[kind]
		if override.Base != "" {
			merged.Base = strings.TrimRight(override.Base, "/")
		}
		if override.Ext != "" {
			merged.Ext = override.Ext
		}
		if len(override.Templates) > 0 {
			merged.Templates = override.Templates
		}
		if override.Outputs > 0 {
			merged.Outputs = override.Outputs
		}
		conv.Kinds[kind] = merged
	}

	return conv, nil
}

// Candidates renders the expected output locations for a job, in probe order.
// A job without an external reference has no candidates.
func (c *Conventions) Candidates(job *models.Job) []string {
	ref := job.ExternalRef()
	if ref == "" {
		return nil
	}
	conv, ok := c.Kinds[job.OperationKind]
	if !ok {
		conv = Convention{Ext: "mp4", Templates: []string{DefaultTemplate}}
	}
	base := c.BaseURL
	if conv.Base != "" {
		base = conv.Base
	}
	outputs := conv.Outputs
	if outputs <= 0 {
		outputs = 1
	}

	var out []string
	seen := make(map[string]bool)
	for _, tmpl := range conv.Templates {
		for i := 0; i < outputs; i++ {
			loc := strings.NewReplacer(
				"{base}", base,
				"{ref}", ref,
				"{ext}", conv.Ext,
				"{index}", strconv.Itoa(i),
				"{kind}", string(job.OperationKind),
			).Replace(tmpl)
			if !seen[loc] {
				seen[loc] = true
				out = append(out, loc)
			}
			if !strings.Contains(tmpl, "{index}") {
				break
			}
		}
	}
	return out
}
