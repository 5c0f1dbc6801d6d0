package source

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/aura-supply/recon-cli/internal/fetcher"
	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/internal/resilience"
)

// Spec is one source definition from the sources file.
type Spec struct {
	Name        string  `yaml:"name"`
	Kind        string  `yaml:"kind"`        // "warehouse" or "logistics"
	Reliability float64 `yaml:"reliability"` // 0 = use the kind default
	Endpoint    string  `yaml:"endpoint"`
	Format      string  `yaml:"format,omitempty"`      // warehouse only: "csv" (default), "xlsx" or "xml"
	Sheet       string  `yaml:"sheet,omitempty"`       // xlsx only: workbook sheet to read, default first
	FXEndpoint  string  `yaml:"fx_endpoint,omitempty"` // logistics only
}

// LoadSpecs reads source definitions from a YAML file.
func LoadSpecs(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read config %s", path)
	}

	// The YAML has a top-level "sources" key
	var wrapper struct {
		Sources []Spec `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "source: parse config")
	}

	specs := wrapper.Sources
	for i, spec := range specs {
		if err := validateSpec(spec); err != nil {
			return nil, err
		}
		// Omitted reliability falls back to the kind default.
		if spec.Reliability == 0 {
			cap, _ := model.CapabilityFor(model.SourceKind(spec.Kind))
			specs[i].Reliability = cap.DefaultReliability
		}
	}

	return specs, nil
}

func validateSpec(spec Spec) error {
	if spec.Name == "" {
		return eris.New("source: spec missing name")
	}
	kind := model.SourceKind(spec.Kind)
	if _, ok := model.CapabilityFor(kind); !ok {
		return eris.Errorf("source: %s: unknown kind %q", spec.Name, spec.Kind)
	}
	if spec.Reliability < 0 || spec.Reliability > 1 {
		return eris.Errorf("source: %s: reliability %.2f outside [0, 1]", spec.Name, spec.Reliability)
	}
	if spec.Endpoint == "" {
		return eris.Errorf("source: %s: missing endpoint", spec.Name)
	}
	switch kind {
	case model.SourceKindWarehouse:
		switch spec.Format {
		case "", "csv", "xlsx", "xml":
		default:
			return eris.Errorf("source: %s: unknown format %q", spec.Name, spec.Format)
		}
		if spec.Sheet != "" && spec.Format != "xlsx" {
			return eris.Errorf("source: %s: sheet only applies to the xlsx format", spec.Name)
		}
	case model.SourceKindLogistics:
		if spec.FXEndpoint == "" {
			return eris.Errorf("source: %s: missing fx_endpoint", spec.Name)
		}
	}
	return nil
}

// Deps carries the shared plumbing sources are built on.
type Deps struct {
	HTTP     *fetcher.HTTPFetcher
	FTP      *fetcher.FTPFetcher
	Breakers *resilience.SourceBreakers
	Retry    resilience.RetryConfig
}

// Registry holds the configured sources for a pipeline run.
type Registry struct {
	sources []Source
}

// NewRegistry builds source adapters from validated specs.
func NewRegistry(specs []Spec, deps Deps) (*Registry, error) {
	reg := &Registry{sources: make([]Source, 0, len(specs))}
	for _, spec := range specs {
		switch model.SourceKind(spec.Kind) {
		case model.SourceKindWarehouse:
			reg.sources = append(reg.sources, NewWarehouse(spec, deps))
		case model.SourceKindLogistics:
			reg.sources = append(reg.sources, NewLogistics(spec, deps))
		default:
			return nil, eris.Errorf("source: %s: unknown kind %q", spec.Name, spec.Kind)
		}
	}
	return reg, nil
}

// LoadRegistry reads the sources file and builds the registry in one step.
func LoadRegistry(path string, deps Deps) (*Registry, error) {
	specs, err := LoadSpecs(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(specs, deps)
}

// Sources returns the registered sources in file order.
func (r *Registry) Sources() []Source {
	return r.sources
}

// Len reports how many sources are registered.
func (r *Registry) Len() int {
	return len(r.sources)
}
