// Package graphdb exports devirtualization results into a Neo4j database
// using batched UNWIND queries.
package graphdb

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/715d/devirt/pkg/devirt"
)

// DefaultBatchSize is the number of rows sent per UNWIND query.
const DefaultBatchSize = 1000

// Runner runs a single Cypher statement.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) error
}

// driverRunner runs statements through a Neo4j driver.
type driverRunner struct {
	driver neo4j.DriverWithContext
}

func (r driverRunner) Run(ctx context.Context, cypher string, params map[string]any) error {
	_, err := neo4j.ExecuteQuery(ctx, r.driver, cypher, params, neo4j.EagerResultTransformer)
	return err
}

// Exporter loads snapshots into Neo4j.
type Exporter struct {
	runner    Runner
	batchSize int
	close     func(context.Context) error
}

// Connect opens a driver for uri and verifies that the server is reachable.
func Connect(ctx context.Context, uri, user, password string) (*Exporter, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connect to %s: %w", uri, err)
	}
	e := NewExporter(driverRunner{driver: driver}, DefaultBatchSize)
	e.close = driver.Close
	return e, nil
}

// NewExporter creates an exporter that sends statements to runner.
// A non-positive batchSize means DefaultBatchSize.
func NewExporter(runner Runner, batchSize int) *Exporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Exporter{runner: runner, batchSize: batchSize}
}

// Close releases the underlying driver, if any.
func (e *Exporter) Close(ctx context.Context) error {
	if e.close == nil {
		return nil
	}
	return e.close(ctx)
}

// Clean removes previously exported nodes and relationships.
func (e *Exporter) Clean(ctx context.Context) error {
	slog.Info("cleaning exported graph")
	queries := []string{
		"MATCH ()-[r:DEVIRTUALIZED]->() DELETE r",
		"MATCH ()-[r:CALLS]->() DELETE r",
		"MATCH ()-[r:OVERRIDES]->() DELETE r",
		"MATCH ()-[r:DECLARES]->() DELETE r",
		"MATCH ()-[r:INHERITS]->() DELETE r",
		"MATCH (n:Method) DETACH DELETE n",
		"MATCH (n:Class) DETACH DELETE n",
	}
	for _, q := range queries {
		if err := e.runner.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("clean graph: %w", err)
		}
	}
	return nil
}

// CreateIndexes ensures the lookup indexes exist.
func (e *Exporter) CreateIndexes(ctx context.Context) error {
	indexes := []string{
		"CREATE INDEX devirt_class_key IF NOT EXISTS FOR (n:Class) ON (n.key)",
		"CREATE INDEX devirt_method_linkage IF NOT EXISTS FOR (n:Method) ON (n.linkage)",
	}
	for _, q := range indexes {
		if err := e.runner.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Export upserts every node and relationship of snap. Nodes are written
// before the relationships that match them.
func (e *Exporter) Export(ctx context.Context, snap *devirt.Snapshot) error {
	steps := []struct {
		name string
		run  func(context.Context, *devirt.Snapshot) error
	}{
		{"classes", e.loadClasses},
		{"methods", e.loadMethods},
		{"inherits", e.loadInherits},
		{"overrides", e.loadOverrides},
		{"calls", e.loadCalls},
		{"devirtualized", e.loadDevirtualized},
	}
	for _, step := range steps {
		if err := step.run(ctx, snap); err != nil {
			return fmt.Errorf("export %s: %w", step.name, err)
		}
	}
	return nil
}

// unwind sends rows in batches to an UNWIND $batch statement.
func (e *Exporter) unwind(ctx context.Context, cypher string, rows []map[string]any) error {
	for batch := range slices.Chunk(rows, e.batchSize) {
		if err := e.runner.Run(ctx, cypher, map[string]any{"batch": batch}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) loadClasses(ctx context.Context, snap *devirt.Snapshot) error {
	slog.Info("loading classes", "count", len(snap.Classes))
	rows := make([]map[string]any, 0, len(snap.Classes))
	for _, c := range snap.Classes {
		rows = append(rows, map[string]any{"key": c.Key, "name": c.Name, "known": c.Known})
	}
	return e.unwind(ctx,
		`UNWIND $batch AS row
		 MERGE (n:Class {key: row.key})
		 SET n.name = row.name, n.known = row.known`,
		rows)
}

func (e *Exporter) loadMethods(ctx context.Context, snap *devirt.Snapshot) error {
	slog.Info("loading methods", "count", len(snap.Methods))
	rows := make([]map[string]any, 0, len(snap.Methods))
	var declared []map[string]any
	for _, m := range snap.Methods {
		rows = append(rows, map[string]any{
			"linkage": m.Linkage, "name": m.Name, "owner": m.Owner,
			"virtual": m.Virtual, "defined": m.Defined,
		})
		if m.Owner != "" {
			declared = append(declared, map[string]any{"owner": m.Owner, "linkage": m.Linkage})
		}
	}
	err := e.unwind(ctx,
		`UNWIND $batch AS row
		 MERGE (n:Method {linkage: row.linkage})
		 SET n.name = row.name, n.owner = row.owner,
		     n.virtual = row.virtual, n.defined = row.defined`,
		rows)
	if err != nil {
		return err
	}
	return e.unwind(ctx,
		`UNWIND $batch AS row
		 MATCH (c:Class {key: row.owner}), (m:Method {linkage: row.linkage})
		 MERGE (c)-[:DECLARES]->(m)`,
		declared)
}

func (e *Exporter) loadInherits(ctx context.Context, snap *devirt.Snapshot) error {
	rows := make([]map[string]any, 0, len(snap.Inherits))
	for _, i := range snap.Inherits {
		rows = append(rows, map[string]any{"child": i.Child, "parent": i.Parent})
	}
	return e.unwind(ctx,
		`UNWIND $batch AS row
		 MATCH (c:Class {key: row.child}), (p:Class {key: row.parent})
		 MERGE (c)-[:INHERITS]->(p)`,
		rows)
}

func (e *Exporter) loadOverrides(ctx context.Context, snap *devirt.Snapshot) error {
	rows := make([]map[string]any, 0, len(snap.Overrides))
	for _, o := range snap.Overrides {
		rows = append(rows, map[string]any{"overrider": o.Overrider, "slot": o.Slot})
	}
	return e.unwind(ctx,
		`UNWIND $batch AS row
		 MATCH (o:Method {linkage: row.overrider}), (s:Method {linkage: row.slot})
		 MERGE (o)-[:OVERRIDES]->(s)`,
		rows)
}

// loadCalls writes resolved call edges. Unknown calls have no callee and are
// recorded as a count on the caller instead.
func (e *Exporter) loadCalls(ctx context.Context, snap *devirt.Snapshot) error {
	slog.Info("loading call edges", "count", len(snap.Calls))
	var rows []map[string]any
	unknown := make(map[string]int)
	for _, c := range snap.Calls {
		if c.Callee == "" {
			unknown[c.Caller]++
			continue
		}
		rows = append(rows, map[string]any{
			"caller": c.Caller, "callee": c.Callee, "kind": c.Kind, "site": c.Site,
		})
	}
	err := e.unwind(ctx,
		`UNWIND $batch AS row
		 MERGE (caller:Method {linkage: row.caller})
		 MERGE (callee:Method {linkage: row.callee})
		 MERGE (caller)-[r:CALLS {kind: row.kind, site: row.site}]->(callee)`,
		rows)
	if err != nil {
		return err
	}

	counts := make([]map[string]any, 0, len(unknown))
	for _, caller := range slices.Sorted(maps.Keys(unknown)) {
		counts = append(counts, map[string]any{"caller": caller, "count": unknown[caller]})
	}
	return e.unwind(ctx,
		`UNWIND $batch AS row
		 MERGE (n:Method {linkage: row.caller})
		 SET n.unknown_calls = row.count`,
		counts)
}

func (e *Exporter) loadDevirtualized(ctx context.Context, snap *devirt.Snapshot) error {
	slog.Info("loading devirtualized sites", "count", len(snap.Devirtualized))
	rows := make([]map[string]any, 0, len(snap.Devirtualized))
	for _, d := range snap.Devirtualized {
		rows = append(rows, map[string]any{
			"function": d.Function, "target": d.Target, "slot": d.Slot,
			"site": d.Site, "rule": d.Rule, "position": d.Position,
		})
	}
	return e.unwind(ctx,
		`UNWIND $batch AS row
		 MATCH (f:Method {linkage: row.function}), (t:Method {linkage: row.target})
		 MERGE (f)-[r:DEVIRTUALIZED {site: row.site}]->(t)
		 SET r.rule = row.rule, r.slot = row.slot, r.position = row.position`,
		rows)
}
