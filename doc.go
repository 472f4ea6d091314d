// Package ledgerline is an ETL execution engine. It moves tabular data from a
// local or remote source through header resolution and schema validation into
// a remote datastore, and records every run in a status ledger so the same
// input is never loaded twice in a row.
//
// # Architecture
//
// A pipeline composes four components, each resolved by type name from a
// registry:
//
//   - Connector (pkg/connector): opens the source and fingerprints its
//     content. Types: file, http, s3, gcs, sftp, ftp.
//   - Extractor (pkg/extractor): resolves headers and yields rows lazily.
//     Types: csv, excel, json.
//   - Schema (pkg/schema): validates each row and describes the destination
//     fields.
//   - Loader (pkg/loader): delivers chunks of rows and refreshes destination
//     metadata. Types: ckan, postgres.
//
// The orchestrator (internal/pipeline) enforces that all four are bound,
// skips input whose checksum matches the last successful run, loads rows in
// chunks, and writes the run's outcome to the ledger (internal/status).
//
// # Quick Start
//
// Describe jobs in a settings file keyed by server:
//
//	staging:
//	  statusdb: {driver: sqlite, dsn: ./status.db}
//	  ckan: {root_url: https://data.example.org, api_key: ${CKAN_API_KEY}}
//	  jobs:
//	    permits:
//	      display_name: Building Permits
//	      log_status: true
//	      connector: {type: file, target: ./permits.csv}
//	      extractor: {type: csv}
//	      schema:
//	        fields:
//	          - {name: permit_id, type: string, required: true}
//	      loader: {type: ckan, package_id: permits, resource_name: Permits}
//
// Then create the ledger and run the job:
//
//	ledgerline create-db --server staging
//	ledgerline run permits --server staging
//
// Or build a pipeline in code:
//
//	p := pipeline.New("permits", "Building Permits", pipeline.WithStatusDB("sqlite", "status.db")).
//		Connect(conn, "permits.csv").
//		Extract(csv).
//		Schema(s).
//		Load(ckan)
//	summary, err := p.Run(ctx)
//
// # Observability
//
// Logs use zap (pkg/logger) with run_id and pipeline fields on every line.
// Run and chunk counters are Prometheus metrics (pkg/metrics), and each run
// and chunk load is an OpenTelemetry span (pkg/observability).
package ledgerline
