// Package intent turns natural-language requests into structured intents by
// delegating interpretation to a language model.
package intent

import (
	"strings"
)

type Intent struct {
	OperationType    string            `json:"operation_type" yaml:"operation_type"`
	Entities         []Entity          `json:"entities" yaml:"entities"`
	Fields           []Field           `json:"fields,omitempty" yaml:"fields,omitempty"`
	Conditions       []string          `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Relationships    []Relationship    `json:"relationships,omitempty" yaml:"relationships,omitempty"`
	AdvancedFeatures *AdvancedFeatures `json:"advanced_features,omitempty" yaml:"advanced_features,omitempty"`
	Explanation      string            `json:"explanation,omitempty" yaml:"explanation,omitempty"`
}

type Entity struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

type Field struct {
	Name        string   `json:"name" yaml:"name"`
	DataType    string   `json:"data_type,omitempty" yaml:"data_type,omitempty"`
	Constraints []string `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

type Relationship struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

type AdvancedFeatures struct {
	Partitioning *Partitioning `json:"partitioning,omitempty" yaml:"partitioning,omitempty"`
	Indexes      []IndexSpec   `json:"indexes,omitempty" yaml:"indexes,omitempty"`
}

type Partitioning struct {
	Type string `json:"type" yaml:"type"`
	By   string `json:"by" yaml:"by"`
}

type IndexSpec struct {
	Name   string   `json:"name" yaml:"name"`
	Fields []string `json:"fields" yaml:"fields"`
	Type   string   `json:"type,omitempty" yaml:"type,omitempty"`
}

// Operation returns the lower-cased operation type, or "unknown".
func (i Intent) Operation() string {
	op := strings.ToLower(strings.TrimSpace(i.OperationType))
	if op == "" {
		return "unknown"
	}
	return op
}

func (i Intent) EntityNames() []string {
	names := make([]string, 0, len(i.Entities))
	for _, entity := range i.Entities {
		names = append(names, entity.Name)
	}
	return names
}

// MigrationName is the operation followed by the entity names joined with
// dashes, e.g. "create_table_users-orders".
func (i Intent) MigrationName() string {
	return i.Operation() + "_" + strings.Join(i.EntityNames(), "-")
}
