// Package config loads and validates the declarative mapping configuration
// that drives a synchronization run: warehouse connection details, the
// graph backend, per-mapping node/edge projection rules, and the optional
// ambient components (watermark backend, run history, notifications, and
// the control API).
//
// Configuration is read from a single JSON or YAML file, selected by file
// extension, and parsed with unknown fields rejected — a misspelled field
// name fails loudly at startup rather than being silently ignored.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/evalgo/snowflake-to-falkordb/internal/secretref"
)

// Config is the top-level shape of a mapping configuration file.
type Config struct {
	Warehouse  *WarehouseConfig  `json:"snowflake,omitempty" yaml:"snowflake,omitempty"`
	Graph      GraphConfig       `json:"falkordb" yaml:"falkordb"`
	State      *StateConfig      `json:"state,omitempty" yaml:"state,omitempty"`
	Mappings   []Mapping         `json:"-" yaml:"-"`
	RunHistory *RunHistoryConfig `json:"run_history,omitempty" yaml:"run_history,omitempty"`
	Notify     *NotifyConfig     `json:"notify,omitempty" yaml:"notify,omitempty"`
	ControlAPI *ControlAPIConfig `json:"control_api,omitempty" yaml:"control_api,omitempty"`
}

// WarehouseConfig describes how to connect to the tabular source. Kind
// selects the driver; Snowflake is the default and the only backend that
// supports key-pair authentication.
type WarehouseConfig struct {
	Kind             string  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Account          string  `json:"account,omitempty" yaml:"account,omitempty"`
	User             string  `json:"user" yaml:"user"`
	Password         *string `json:"password,omitempty" yaml:"password,omitempty"`
	PrivateKeyPath   *string `json:"private_key_path,omitempty" yaml:"private_key_path,omitempty"`
	Warehouse        string  `json:"warehouse,omitempty" yaml:"warehouse,omitempty"`
	Database         string  `json:"database" yaml:"database"`
	Schema           string  `json:"schema" yaml:"schema"`
	Role             *string `json:"role,omitempty" yaml:"role,omitempty"`
	FetchBatchSize   int     `json:"fetch_batch_size,omitempty" yaml:"fetch_batch_size,omitempty"`
	FetchPagesPerSec float64 `json:"fetch_pages_per_second,omitempty" yaml:"fetch_pages_per_second,omitempty"`
	QueryTimeoutMS   int64   `json:"query_timeout_ms,omitempty" yaml:"query_timeout_ms,omitempty"`
	DSN              string  `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

const (
	WarehouseKindSnowflake = "snowflake"
	WarehouseKindPostgres  = "postgres"
)

// EffectiveKind returns the configured warehouse kind, defaulting to Snowflake.
func (w *WarehouseConfig) EffectiveKind() string {
	if w.Kind == "" {
		return WarehouseKindSnowflake
	}
	return w.Kind
}

// GraphConfig describes the sink graph. Kind selects the wire protocol;
// FalkorDB's Redis protocol is the default, Neo4j's Bolt protocol is the
// alternative.
type GraphConfig struct {
	Kind               string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Endpoint           string `json:"endpoint" yaml:"endpoint"`
	Graph              string `json:"graph" yaml:"graph"`
	MaxUnwindBatchSize *int   `json:"max_unwind_batch_size,omitempty" yaml:"max_unwind_batch_size,omitempty"`
	Username           string `json:"username,omitempty" yaml:"username,omitempty"`
	Password           string `json:"password,omitempty" yaml:"password,omitempty"`
}

const (
	GraphKindFalkorDB = "falkordb"
	GraphKindNeo4j    = "neo4j"
)

// EffectiveKind returns the configured graph kind, defaulting to FalkorDB.
func (g *GraphConfig) EffectiveKind() string {
	if g.Kind == "" {
		return GraphKindFalkorDB
	}
	return g.Kind
}

// EffectiveBatchSize returns the configured UNWIND batch size, defaulting to
// 1000 when unset and never going below 1.
func (g *GraphConfig) EffectiveBatchSize() int {
	if g.MaxUnwindBatchSize == nil {
		return 1000
	}
	if *g.MaxUnwindBatchSize < 1 {
		return 1
	}
	return *g.MaxUnwindBatchSize
}

const (
	StateBackendNone  = "none"
	StateBackendFile  = "file"
	StateBackendGraph = "graph"
	StateBackendLocal = "local"
)

// StateConfig selects where per-mapping watermarks are persisted.
type StateConfig struct {
	Backend  string `json:"backend" yaml:"backend"`
	FilePath string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
}

const (
	RunHistoryBackendNone     = "none"
	RunHistoryBackendPostgres = "postgres"
	RunHistoryBackendCouchDB  = "couchdb"
	RunHistoryBackendLocal    = "local"
)

// RunHistoryConfig selects where per-run audit records are persisted.
type RunHistoryConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// NotifyConfig configures the best-effort AMQP run-completion notifier.
type NotifyConfig struct {
	URL      string `json:"url" yaml:"url"`
	Exchange string `json:"exchange,omitempty" yaml:"exchange,omitempty"`
}

// ControlAPIConfig configures the echo-based health/status/trigger surface.
type ControlAPIConfig struct {
	ListenAddr string  `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
	JWTSecret  *string `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty"`
}

// EffectiveListenAddr returns the configured control API address, defaulting
// to the metrics endpoint's historical default.
func (c *ControlAPIConfig) EffectiveListenAddr() string {
	if c.ListenAddr == "" {
		return "0.0.0.0:9898"
	}
	return c.ListenAddr
}

const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// SourceSpec describes where a mapping's rows come from. Precedence when
// multiple fields are set is select > stream > table > (s3 or file).
type SourceSpec struct {
	File   *string   `json:"file,omitempty" yaml:"file,omitempty"`
	S3     *S3Source `json:"s3,omitempty" yaml:"s3,omitempty"`
	Table  *string   `json:"table,omitempty" yaml:"table,omitempty"`
	Stream *string   `json:"stream,omitempty" yaml:"stream,omitempty"`
	Select *string   `json:"select,omitempty" yaml:"select,omitempty"`
	Where  *string   `json:"where,omitempty" yaml:"where,omitempty"`
}

// S3Source names an S3 object holding a JSON array of row objects.
type S3Source struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Key    string `json:"key" yaml:"key"`
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
}

// DeltaSpec configures incremental fetch and soft-delete propagation for a
// mapping.
type DeltaSpec struct {
	UpdatedAtColumn   string  `json:"updated_at_column" yaml:"updated_at_column"`
	DeletedFlagColumn *string `json:"deleted_flag_column,omitempty" yaml:"deleted_flag_column,omitempty"`
	DeletedFlagValue  any     `json:"deleted_flag_value,omitempty" yaml:"deleted_flag_value,omitempty"`
	InitialFullLoad   bool    `json:"initial_full_load,omitempty" yaml:"initial_full_load,omitempty"`
}

// CommonFields are shared by both node and edge mappings.
type CommonFields struct {
	Name   string     `json:"name" yaml:"name"`
	Source SourceSpec `json:"source" yaml:"source"`
	Mode   string     `json:"mode,omitempty" yaml:"mode,omitempty"`
	Delta  *DeltaSpec `json:"delta,omitempty" yaml:"delta,omitempty"`
}

// EffectiveMode returns the mapping's mode, defaulting to full.
func (c *CommonFields) EffectiveMode() string {
	if c.Mode == "" {
		return ModeFull
	}
	return c.Mode
}

// KeySpec names the column/property pair used as a node's unique key, or as
// an edge's own identifying property. Node and edge key specs share this
// shape.
type KeySpec struct {
	Column   string `json:"column" yaml:"column"`
	Property string `json:"property" yaml:"property"`
}

// PropertySpec names the source column feeding a single graph property.
type PropertySpec struct {
	Column string `json:"column" yaml:"column"`
}

// MatchOn names one column/property pair used to locate an edge endpoint
// node.
type MatchOn struct {
	Column   string `json:"column" yaml:"column"`
	Property string `json:"property" yaml:"property"`
}

// EdgeEndpointMatch identifies which node mapping an edge endpoint refers to
// and how to match it.
type EdgeEndpointMatch struct {
	NodeMapping   string    `json:"node_mapping" yaml:"node_mapping"`
	MatchOn       []MatchOn `json:"match_on" yaml:"match_on"`
	LabelOverride []string  `json:"label_override,omitempty" yaml:"label_override,omitempty"`
}

const (
	EdgeDirectionOut = "out"
	EdgeDirectionIn  = "in"
)

// Mapping is implemented by NodeMapping and EdgeMapping. It is a closed sum:
// MappingKind distinguishes the two, and no other implementation is valid.
type Mapping interface {
	MappingName() string
	MappingKind() string
}

const (
	MappingKindNode = "node"
	MappingKindEdge = "edge"
)

// NodeMapping projects rows into graph nodes.
type NodeMapping struct {
	Common     CommonFields            `json:"-" yaml:"-"`
	Labels     []string                `json:"-" yaml:"-"`
	Key        KeySpec                 `json:"-" yaml:"-"`
	Properties map[string]PropertySpec `json:"-" yaml:"-"`
}

func (n *NodeMapping) MappingName() string { return n.Common.Name }
func (n *NodeMapping) MappingKind() string { return MappingKindNode }

// EdgeMapping projects rows into graph relationships between two node
// mappings.
type EdgeMapping struct {
	Common       CommonFields            `json:"-" yaml:"-"`
	Relationship string                  `json:"-" yaml:"-"`
	Direction    string                  `json:"-" yaml:"-"`
	From         EdgeEndpointMatch       `json:"-" yaml:"-"`
	To           EdgeEndpointMatch       `json:"-" yaml:"-"`
	Key          *KeySpec                `json:"-" yaml:"-"`
	Properties   map[string]PropertySpec `json:"-" yaml:"-"`
}

func (e *EdgeMapping) MappingName() string { return e.Common.Name }
func (e *EdgeMapping) MappingKind() string { return MappingKindEdge }

// EffectiveDirection returns the edge's direction, defaulting to "out".
func (e *EdgeMapping) EffectiveDirection() string {
	if e.Direction == "" {
		return EdgeDirectionOut
	}
	return e.Direction
}

// rawMapping is the on-the-wire union of every field that can appear on a
// node or edge mapping. Node and edge mappings are structurally disjoint
// except for the fields they share (name/source/mode/delta/key/properties),
// so a single struct with DisallowUnknownFields/KnownFields enabled still
// rejects genuinely unknown keys while letting one shared decode path serve
// both variants.
type rawMapping struct {
	Type         string                  `json:"type" yaml:"type"`
	Name         string                  `json:"name" yaml:"name"`
	Source       SourceSpec              `json:"source" yaml:"source"`
	Mode         string                  `json:"mode,omitempty" yaml:"mode,omitempty"`
	Delta        *DeltaSpec              `json:"delta,omitempty" yaml:"delta,omitempty"`
	Labels       []string                `json:"labels,omitempty" yaml:"labels,omitempty"`
	Key          *KeySpec                `json:"key,omitempty" yaml:"key,omitempty"`
	Properties   map[string]PropertySpec `json:"properties,omitempty" yaml:"properties,omitempty"`
	Relationship string                  `json:"relationship,omitempty" yaml:"relationship,omitempty"`
	Direction    string                  `json:"direction,omitempty" yaml:"direction,omitempty"`
	From         *EdgeEndpointMatch      `json:"from,omitempty" yaml:"from,omitempty"`
	To           *EdgeEndpointMatch      `json:"to,omitempty" yaml:"to,omitempty"`
}

func (r *rawMapping) toMapping() (Mapping, error) {
	common := CommonFields{Name: r.Name, Source: r.Source, Mode: r.Mode, Delta: r.Delta}

	switch strings.ToLower(r.Type) {
	case MappingKindNode:
		if len(r.Labels) == 0 {
			return nil, fmt.Errorf("mapping %q: node mapping requires at least one label", r.Name)
		}
		if r.Key == nil {
			return nil, fmt.Errorf("mapping %q: node mapping requires a key", r.Name)
		}
		return &NodeMapping{
			Common:     common,
			Labels:     r.Labels,
			Key:        *r.Key,
			Properties: r.Properties,
		}, nil
	case MappingKindEdge:
		if r.Relationship == "" {
			return nil, fmt.Errorf("mapping %q: edge mapping requires relationship", r.Name)
		}
		if r.From == nil || r.To == nil {
			return nil, fmt.Errorf("mapping %q: edge mapping requires from and to", r.Name)
		}
		return &EdgeMapping{
			Common:       common,
			Relationship: r.Relationship,
			Direction:    r.Direction,
			From:         *r.From,
			To:           *r.To,
			Key:          r.Key,
			Properties:   r.Properties,
		}, nil
	default:
		return nil, fmt.Errorf("mapping %q: unknown type %q (want \"node\" or \"edge\")", r.Name, r.Type)
	}
}

// rawConfig mirrors Config but with Mappings as the wire-shaped rawMapping,
// so the standard decoders can reject unknown fields throughout.
type rawConfig struct {
	Warehouse  *WarehouseConfig  `json:"snowflake,omitempty" yaml:"snowflake,omitempty"`
	Graph      GraphConfig       `json:"falkordb" yaml:"falkordb"`
	State      *StateConfig      `json:"state,omitempty" yaml:"state,omitempty"`
	Mappings   []rawMapping      `json:"mappings" yaml:"mappings"`
	RunHistory *RunHistoryConfig `json:"run_history,omitempty" yaml:"run_history,omitempty"`
	Notify     *NotifyConfig     `json:"notify,omitempty" yaml:"notify,omitempty"`
	ControlAPI *ControlAPIConfig `json:"control_api,omitempty" yaml:"control_api,omitempty"`
}

// LoadFromFile reads, strictly parses, and validates a configuration file,
// resolving any secret references ($VAR or infisical://...) found in
// sensitive fields. The format (JSON or YAML) is selected by file
// extension.
func LoadFromFile(path string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var raw rawConfig
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(strings.NewReader(string(contents)))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", path, err)
		}
	default:
		dec := json.NewDecoder(strings.NewReader(string(contents)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Warehouse:  raw.Warehouse,
		Graph:      raw.Graph,
		State:      raw.State,
		RunHistory: raw.RunHistory,
		Notify:     raw.Notify,
		ControlAPI: raw.ControlAPI,
	}

	cfg.Mappings = make([]Mapping, 0, len(raw.Mappings))
	for i := range raw.Mappings {
		m, err := raw.Mappings[i].toMapping()
		if err != nil {
			return nil, err
		}
		cfg.Mappings = append(cfg.Mappings, m)
	}

	if err := resolveSecrets(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolveSecrets walks every config field that may carry a secret reference
// ($VAR or infisical://path) and replaces it with its resolved value.
func resolveSecrets(cfg *Config) error {
	if cfg.Warehouse != nil && cfg.Warehouse.Password != nil {
		resolved, err := secretref.Resolve(*cfg.Warehouse.Password)
		if err != nil {
			return fmt.Errorf("resolving snowflake.password: %w", err)
		}
		cfg.Warehouse.Password = &resolved
	}
	if cfg.Graph.Password != "" {
		resolved, err := secretref.Resolve(cfg.Graph.Password)
		if err != nil {
			return fmt.Errorf("resolving falkordb.password: %w", err)
		}
		cfg.Graph.Password = resolved
	}
	if cfg.RunHistory != nil && cfg.RunHistory.DSN != "" {
		resolved, err := secretref.Resolve(cfg.RunHistory.DSN)
		if err != nil {
			return fmt.Errorf("resolving run_history.dsn: %w", err)
		}
		cfg.RunHistory.DSN = resolved
	}
	if cfg.Notify != nil && cfg.Notify.URL != "" {
		resolved, err := secretref.Resolve(cfg.Notify.URL)
		if err != nil {
			return fmt.Errorf("resolving notify.url: %w", err)
		}
		cfg.Notify.URL = resolved
	}
	if cfg.ControlAPI != nil && cfg.ControlAPI.JWTSecret != nil {
		resolved, err := secretref.Resolve(*cfg.ControlAPI.JWTSecret)
		if err != nil {
			return fmt.Errorf("resolving control_api.jwt_secret: %w", err)
		}
		cfg.ControlAPI.JWTSecret = &resolved
	}
	return nil
}

// NodeMappingsByName indexes a mapping set's node mappings by name, so edge
// mappings can resolve their endpoint labels.
func NodeMappingsByName(mappings []Mapping) map[string]*NodeMapping {
	out := make(map[string]*NodeMapping)
	for _, m := range mappings {
		if n, ok := m.(*NodeMapping); ok {
			out[n.Common.Name] = n
		}
	}
	return out
}
