// Package infra assembles the CloudFormation template that deploys a
// packaged application: a streaming Lambda function behind a function URL,
// two website buckets for static and prerendered content, and a CloudFront
// distribution routing between them.
package infra

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Template is a CloudFormation template
type Template struct {
	AWSTemplateFormatVersion string               `json:"AWSTemplateFormatVersion"`
	Description              string               `json:"Description,omitempty"`
	Parameters               map[string]Parameter `json:"Parameters,omitempty"`
	Resources                map[string]Resource  `json:"Resources"`
	Outputs                  map[string]Output    `json:"Outputs,omitempty"`
}

// Resource is a single template resource
type Resource struct {
	Type       string         `json:"Type"`
	Properties map[string]any `json:"Properties,omitempty"`
	DependsOn  []string       `json:"DependsOn,omitempty"`
}

// Parameter is a template input
type Parameter struct {
	Type        string `json:"Type"`
	Description string `json:"Description,omitempty"`
	Default     any    `json:"Default,omitempty"`
}

// Output is a stack output
type Output struct {
	Description string `json:"Description,omitempty"`
	Value       any    `json:"Value"`
}

func newTemplate(description string) *Template {
	return &Template{
		AWSTemplateFormatVersion: "2010-09-09",
		Description:              description,
		Parameters:               map[string]Parameter{},
		Resources:                map[string]Resource{},
		Outputs:                  map[string]Output{},
	}
}

func (t *Template) add(name, resourceType string, props map[string]any, dependsOn ...string) {
	t.Resources[name] = Resource{Type: resourceType, Properties: props, DependsOn: dependsOn}
}

// ResourceNames returns the logical ids in sorted order
func (t *Template) ResourceNames() []string {
	names := make([]string, 0, len(t.Resources))
	for name := range t.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JSON serializes the template as indented JSON
func (t *Template) JSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// YAML serializes the template as YAML. Intrinsic functions only know how to
// marshal themselves to JSON, so the template goes through JSON first.
func (t *Template) YAML() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("convert template: %w", err)
	}
	return yaml.Marshal(doc)
}

// Encode serializes the template in the named format
func (t *Template) Encode(format string) ([]byte, error) {
	switch format {
	case "", "json":
		return t.JSON()
	case "yaml", "yml":
		return t.YAML()
	default:
		return nil, fmt.Errorf("unknown template format %q", format)
	}
}
