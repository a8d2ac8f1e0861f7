package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/soyeahso/conductor/internal/domain"
)

// Definitions is the raw material of a catalog, as supplied by a Source.
type Definitions struct {
	Agents       []domain.AgentDefinition    `yaml:"agents"`
	Workflows    []domain.WorkflowDefinition `yaml:"workflows"`
	RoutingRules []domain.RoutingRule        `yaml:"routing_rules"`
	DefaultRoute string                      `yaml:"default_route,omitempty"`
}

// Source supplies catalog definitions at startup and on reload.
type Source interface {
	Load(ctx context.Context) (*Definitions, error)
}

// Load returns the definitions themselves, so a literal can serve as a Source.
func (d *Definitions) Load(context.Context) (*Definitions, error) { return d, nil }

// Build registers every definition and freezes the result. All registration
// and resolution problems are reported together in one ValidationError.
func Build(defs *Definitions, opts ...Option) (*Catalog, error) {
	r := NewRegistry(opts...)
	var issues []string
	collect := func(err error) {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			issues = append(issues, ve.Issues...)
		} else if err != nil {
			issues = append(issues, err.Error())
		}
	}

	for _, a := range defs.Agents {
		collect(r.RegisterAgent(a))
	}
	for _, wf := range defs.Workflows {
		collect(r.RegisterWorkflow(wf))
	}
	for _, rule := range defs.RoutingRules {
		collect(r.RegisterRoutingRule(rule))
	}
	collect(r.SetDefaultRoute(defs.DefaultRoute))

	if len(issues) > 0 {
		// Resolution problems are still worth reporting alongside registration ones.
		issues = append(issues, r.resolve()...)
		return nil, domain.NewValidationError(issues...)
	}
	return r.Freeze()
}

// FileSource reads a YAML catalog file and an optional directory of agent
// markdown files whose YAML frontmatter holds an AgentDefinition.
type FileSource struct {
	CatalogPath string
	AgentsDir   string
	// MaxParallel bounds concurrent agent file parsing. Zero means 8.
	MaxParallel int
}

// Paths returns the filesystem locations the source reads.
func (s *FileSource) Paths() []string {
	var paths []string
	if s.CatalogPath != "" {
		paths = append(paths, s.CatalogPath)
	}
	if s.AgentsDir != "" {
		paths = append(paths, s.AgentsDir)
	}
	return paths
}

// Load reads the catalog file and agent files.
func (s *FileSource) Load(ctx context.Context) (*Definitions, error) {
	defs := &Definitions{}
	if s.CatalogPath != "" {
		data, err := os.ReadFile(s.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		if err := yaml.Unmarshal(data, defs); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", s.CatalogPath, err)
		}
	}

	if s.AgentsDir == "" {
		return defs, nil
	}
	agents, err := s.loadAgentFiles(ctx)
	if err != nil {
		return nil, err
	}
	defs.Agents = append(defs.Agents, agents...)
	return defs, nil
}

func (s *FileSource) loadAgentFiles(ctx context.Context) ([]domain.AgentDefinition, error) {
	entries, err := os.ReadDir(s.AgentsDir)
	if err != nil {
		return nil, fmt.Errorf("read agents dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		files = append(files, filepath.Join(s.AgentsDir, e.Name()))
	}
	sort.Strings(files)

	limit := s.MaxParallel
	if limit <= 0 {
		limit = 8
	}

	agents := make([]domain.AgentDefinition, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			def, err := ParseAgentFile(path)
			if err != nil {
				return err
			}
			agents[i] = def
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return agents, nil
}

var frontmatterDelim = []byte("---")

// ParseAgentFile reads an agent definition from a markdown file's YAML
// frontmatter. The definition's File is set to path, and a missing name
// defaults to the file's base name.
func ParseAgentFile(path string) (domain.AgentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.AgentDefinition{}, err
	}

	front, _, ok := splitFrontmatter(data)
	if !ok {
		return domain.AgentDefinition{}, fmt.Errorf("%s: missing YAML frontmatter", path)
	}

	var def domain.AgentDefinition
	if err := yaml.Unmarshal(front, &def); err != nil {
		return domain.AgentDefinition{}, fmt.Errorf("%s: parse frontmatter: %w", path, err)
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), ".md")
	}
	def.File = path
	return def, nil
}

// AgentInstructions returns the markdown body of an agent file, without
// its frontmatter.
func AgentInstructions(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if _, body, ok := splitFrontmatter(data); ok {
		return strings.TrimSpace(string(body)), nil
	}
	return strings.TrimSpace(string(data)), nil
}

func splitFrontmatter(data []byte) (front, body []byte, ok bool) {
	data = bytes.TrimLeft(data, "\ufeff \t\r\n")
	if !bytes.HasPrefix(data, frontmatterDelim) {
		return nil, data, false
	}
	rest := data[len(frontmatterDelim):]
	end := bytes.Index(rest, append([]byte("\n"), frontmatterDelim...))
	if end < 0 {
		return nil, data, false
	}
	front = rest[:end]
	body = rest[end+1+len(frontmatterDelim):]
	return front, body, true
}
