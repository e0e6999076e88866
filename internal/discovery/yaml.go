package discovery

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLSource discovers databases from a YAML file:
//
//	databases:
//	  - name: tenant_a
//	    connection: postgres://...
//	    schema: infra
type YAMLSource struct {
	path string
}

// NewYAMLSource builds a YAMLSource reading from path.
func NewYAMLSource(path string) *YAMLSource {
	return &YAMLSource{path: path}
}

type yamlDocument struct {
	Databases []yamlDatabase `yaml:"databases"`
}

type yamlDatabase struct {
	Name       string `yaml:"name"`
	Connection string `yaml:"connection"`
	Schema     string `yaml:"schema"`
}

// DiscoverDatabases implements Source.
func (s *YAMLSource) DiscoverDatabases(context.Context) ([]Database, error) {
	data, err := os.ReadFile(s.path) //nolint:gosec // path is from trusted deployment config
	if err != nil {
		return nil, fmt.Errorf("discovery: read %s: %w", s.path, err)
	}

	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("discovery: parse %s: %w", s.path, err)
	}

	databases := make([]Database, 0, len(doc.Databases))

	for _, d := range doc.Databases {
		schema := d.Schema
		if schema == "" {
			schema = "infra"
		}

		databases = append(databases, Database{Name: d.Name, Connection: d.Connection, Schema: schema})
	}

	return databases, nil
}
