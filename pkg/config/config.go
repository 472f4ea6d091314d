// Package config loads the ledgerline settings file.
//
// The file is keyed by server name. Each server carries the status
// database, logging, tracing, retry and CKAN defaults, and the jobs it can
// run:
//
//	staging:
//	  statusdb:
//	    driver: sqlite
//	    dsn: ./status.db
//	  ckan:
//	    root_url: https://data.example.org
//	    api_key: ${CKAN_API_KEY}
//	  jobs:
//	    permits:
//	      display_name: Building Permits
//	      log_status: true
//	      connector: {type: sftp, target: /exports/permits.csv, host: sftp.example.org}
//	      extractor: {type: csv}
//	      schema:
//	        fields:
//	          - {name: permit_id, type: string, required: true}
//	      loader: {type: ckan, package_id: permits, resource_name: Permits}
//
// ${VAR} references are replaced with environment values before parsing.
// Missing required settings fail at load time with a configuration error
// naming the dotted path of the setting.
package config

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgerline/internal/pipeline"
	"github.com/ajitpratap0/ledgerline/pkg/connector"
	"github.com/ajitpratap0/ledgerline/pkg/errors"
	"github.com/ajitpratap0/ledgerline/pkg/extractor"
	"github.com/ajitpratap0/ledgerline/pkg/loader"
	"github.com/ajitpratap0/ledgerline/pkg/logger"
	"github.com/ajitpratap0/ledgerline/pkg/observability"
	"github.com/ajitpratap0/ledgerline/pkg/retry"
	"github.com/ajitpratap0/ledgerline/pkg/schema"
)

// StatusDBConfig locates the status ledger.
type StatusDBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// CKANConfig holds defaults for every ckan loader of a server.
type CKANConfig struct {
	RootURL string `yaml:"root_url"`
	APIKey  string `yaml:"api_key"`
}

// ConnectorConfig selects and configures a connector.
type ConnectorConfig struct {
	Type              string `yaml:"type"`
	Target            string `yaml:"target"`
	connector.Options `yaml:",inline"`
}

// ExtractorConfig selects and configures an extractor.
type ExtractorConfig struct {
	Type              string `yaml:"type"`
	extractor.Options `yaml:",inline"`
}

// SchemaConfig declares the fields rows are validated against.
type SchemaConfig struct {
	Name   string         `yaml:"name"`
	Fields []schema.Field `yaml:"fields"`
}

// LoaderConfig selects and configures a loader.
type LoaderConfig struct {
	Type           string `yaml:"type"`
	loader.Options `yaml:",inline"`
}

// JobConfig describes one pipeline.
type JobConfig struct {
	DisplayName    string          `yaml:"display_name"`
	LogStatus      bool            `yaml:"log_status"`
	ChunkSize      int             `yaml:"chunk_size"`
	StartFromChunk int             `yaml:"start_from_chunk"`
	StrictLoad     *bool           `yaml:"strict_load"`
	Connector      ConnectorConfig `yaml:"connector"`
	Extractor      ExtractorConfig `yaml:"extractor"`
	Schema         SchemaConfig    `yaml:"schema"`
	Loader         LoaderConfig    `yaml:"loader"`
}

func (j JobConfig) strict() bool { return j.StrictLoad == nil || *j.StrictLoad }

// ServerConfig is the settings of one server.
type ServerConfig struct {
	StatusDB StatusDBConfig              `yaml:"statusdb"`
	Logging  logger.Config               `yaml:"logging"`
	Tracing  observability.TracingConfig `yaml:"tracing"`
	Retry    *retry.Policy               `yaml:"retry"`
	CKAN     CKANConfig                  `yaml:"ckan"`
	Jobs     map[string]JobConfig        `yaml:"jobs"`

	name string
	raw  map[string]any
}

// Name returns the server the settings were loaded for.
func (s *ServerConfig) Name() string { return s.name }

// Load reads the settings of server from the file at path.
func Load(path, server string) (*ServerConfig, error) {
	var typed map[string]*ServerConfig
	if err := readYAML(path, &typed); err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := readYAML(path, &raw); err != nil {
		return nil, err
	}

	cfg, ok := typed[server]
	if !ok || cfg == nil {
		return nil, missing(server)
	}
	cfg.name = server
	cfg.raw, _ = raw[server].(map[string]any)
	cfg.Tracing = tracingDefaults(cfg.Tracing)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Servers lists the servers defined in the file at path.
func Servers(path string) ([]string, error) {
	var raw map[string]any
	if err := readYAML(path, &raw); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Lookup returns the raw value at a dotted path below the server, such as
// "ckan.root_url" or "jobs.permits.chunk_size".
func (s *ServerConfig) Lookup(path string) (any, error) {
	var cur any = s.raw
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, missing(s.name + "." + path)
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, missing(s.name + "." + path)
			}
			cur = node[i]
		default:
			return nil, missing(s.name + "." + path)
		}
	}
	return cur, nil
}

// JobNames lists the configured jobs, sorted.
func (s *ServerConfig) JobNames() []string {
	names := make([]string, 0, len(s.Jobs))
	for name := range s.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func tracingDefaults(t observability.TracingConfig) observability.TracingConfig {
	d := observability.DefaultTracingConfig()
	if t.ServiceName == "" {
		t.ServiceName = d.ServiceName
	}
	if t.ServiceVersion == "" {
		t.ServiceVersion = d.ServiceVersion
	}
	if t.Environment == "" {
		t.Environment = d.Environment
	}
	if t.SamplingRate == 0 {
		t.SamplingRate = d.SamplingRate
	}
	if t.Exporter == "" {
		t.Exporter = d.Exporter
	}
	return t
}

func missing(path string) error {
	return errors.Newf(errors.ErrorTypeConfig, "missing required setting %s", path).
		WithDetail("path", path)
}

func invalid(path string, format string, args ...any) error {
	return errors.Newf(errors.ErrorTypeConfig, "invalid setting %s: %s", path, fmt.Sprintf(format, args...)).
		WithDetail("path", path)
}

func (s *ServerConfig) validate() error {
	for _, name := range s.JobNames() {
		job := s.Jobs[name]
		path := s.name + ".jobs." + name

		if job.LogStatus && s.StatusDB.DSN == "" {
			return missing(s.name + ".statusdb.dsn")
		}
		if err := checkType(path+".connector", job.Connector.Type, connector.Types()); err != nil {
			return err
		}
		if job.Connector.Target == "" {
			return missing(path + ".connector.target")
		}
		if err := checkType(path+".extractor", job.Extractor.Type, extractor.Types()); err != nil {
			return err
		}
		if len(job.Schema.Fields) == 0 {
			return missing(path + ".schema.fields")
		}
		if err := checkType(path+".loader", job.Loader.Type, loader.Types()); err != nil {
			return err
		}
		if job.Loader.Type == "ckan" && job.Loader.RootURL == "" && s.CKAN.RootURL == "" {
			return missing(s.name + ".ckan.root_url")
		}
		if job.ChunkSize < 0 {
			return invalid(path+".chunk_size", "must not be negative")
		}
	}
	return nil
}

func checkType(path, typ string, known []string) error {
	if typ == "" {
		return missing(path + ".type")
	}
	if !slices.Contains(known, typ) {
		return invalid(path+".type", "unknown type %q, expected one of %s", typ, strings.Join(known, ", "))
	}
	return nil
}

// Pipelines builds a registry holding every configured job. base options
// apply to every pipeline before the job's own settings.
func (s *ServerConfig) Pipelines(log *zap.Logger, base ...pipeline.Option) (*pipeline.Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	reg := pipeline.NewRegistry()
	for _, name := range s.JobNames() {
		b, err := s.job(name, log, base)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(name, b); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (s *ServerConfig) job(name string, log *zap.Logger, base []pipeline.Option) (pipeline.Builder, error) {
	job := s.Jobs[name]
	path := s.name + ".jobs." + name

	connOpts := job.Connector.Options
	connOpts.Logger = log.With(zap.String("connector", job.Connector.Type))
	connFactory, err := connector.Lookup(job.Connector.Type, connOpts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid setting "+path+".connector")
	}

	extFactory, err := extractor.Lookup(job.Extractor.Type, job.Extractor.Options)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid setting "+path+".extractor")
	}

	schemaName := job.Schema.Name
	if schemaName == "" {
		schemaName = name
	}
	sch := schema.New(schemaName, job.Schema.Fields...)
	if err := sch.Check(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid setting "+path+".schema")
	}

	loadOpts := s.loaderOptions(job.Loader)
	loadOpts.Logger = log.With(zap.String("loader", job.Loader.Type))
	loadFactory, err := loader.Lookup(job.Loader.Type, loadOpts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid setting "+path+".loader")
	}

	displayName := job.DisplayName
	if displayName == "" {
		displayName = name
	}

	jobOpts := []pipeline.Option{
		pipeline.WithChunkSize(job.ChunkSize),
		pipeline.WithStartFromChunk(job.StartFromChunk),
		pipeline.WithStrict(job.strict()),
	}
	if len(job.Extractor.Headers) > 0 {
		jobOpts = append(jobOpts, pipeline.WithHeaders(job.Extractor.Headers...))
	}
	if job.LogStatus {
		jobOpts = append(jobOpts, pipeline.WithStatusDB(s.StatusDB.Driver, s.StatusDB.DSN))
	}

	return func(overrides []pipeline.Option) (*pipeline.Pipeline, error) {
		opts := make([]pipeline.Option, 0, len(base)+len(jobOpts)+len(overrides))
		opts = append(opts, base...)
		opts = append(opts, jobOpts...)
		opts = append(opts, overrides...)

		return pipeline.New(name, displayName, opts...).
			Connect(connFactory, job.Connector.Target).
			Extract(extFactory).
			Schema(sch).
			Load(loadFactory), nil
	}, nil
}

// loaderOptions fills CKAN credentials and the retry policy from the server
// defaults.
func (s *ServerConfig) loaderOptions(lc LoaderConfig) loader.Options {
	opts := lc.Options
	if lc.Type == "ckan" {
		if opts.RootURL == "" {
			opts.RootURL = s.CKAN.RootURL
		}
		if opts.APIKey == "" {
			opts.APIKey = s.CKAN.APIKey
		}
	}
	if opts.Retry == nil && s.Retry != nil {
		opts.Retry = s.Retry.Clone()
	}
	return opts
}
