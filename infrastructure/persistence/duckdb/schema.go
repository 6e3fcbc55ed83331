package duckdb

// Table names shared by the repositories, the integrity scanner, and the
// snapshot export/import code.
const (
	tableNodes       = "graph_nodes"
	tableEdges       = "graph_edges"
	tableEntities    = "entities"
	tableEntityEdges = "entity_edges"
	tableMigrations  = "schema_migrations"
)

// GraphTables lists the tables included in a snapshot, core tables first.
// Hydration loads them in this order and may report readiness after the core
// tables (nodes, edges) are in place.
var GraphTables = []string{tableNodes, tableEdges, tableEntities, tableEntityEdges}

// CoreTables are the tables that must be loaded before the store is queryable
var CoreTables = []string{tableNodes, tableEdges}

// Migrations is the ordered, additive migration set. New schema changes are
// appended with the next version; rewriting an applied migration is never
// allowed.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "graph tables: nodes, edges, entities, entity edges",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS graph_nodes (
				id         VARCHAR NOT NULL,
				tenant_id  VARCHAR NOT NULL,
				node_type  VARCHAR NOT NULL,
				attributes VARCHAR,
				created_at TIMESTAMP NOT NULL,
				deleted_at TIMESTAMP,
				PRIMARY KEY (tenant_id, id)
			)`,
			`CREATE TABLE IF NOT EXISTS graph_edges (
				id         VARCHAR NOT NULL,
				tenant_id  VARCHAR NOT NULL,
				source_id  VARCHAR NOT NULL,
				target_id  VARCHAR NOT NULL,
				edge_type  VARCHAR NOT NULL,
				weight     DOUBLE,
				created_at TIMESTAMP NOT NULL,
				deleted_at TIMESTAMP,
				PRIMARY KEY (tenant_id, id)
			)`,
			`CREATE TABLE IF NOT EXISTS entities (
				id          VARCHAR NOT NULL,
				tenant_id   VARCHAR NOT NULL,
				node_id     VARCHAR NOT NULL,
				name        VARCHAR NOT NULL,
				entity_type VARCHAR,
				attributes  VARCHAR,
				created_at  TIMESTAMP NOT NULL,
				deleted_at  TIMESTAMP,
				PRIMARY KEY (tenant_id, id)
			)`,
			`CREATE TABLE IF NOT EXISTS entity_edges (
				id               VARCHAR NOT NULL,
				tenant_id        VARCHAR NOT NULL,
				source_entity_id VARCHAR NOT NULL,
				target_entity_id VARCHAR NOT NULL,
				relation         VARCHAR NOT NULL,
				confidence       DOUBLE,
				created_at       TIMESTAMP NOT NULL,
				deleted_at       TIMESTAMP,
				PRIMARY KEY (tenant_id, id)
			)`,
		},
	},
	{
		Version:     2,
		Description: "traversal and cascade support indexes",
		Statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_graph_edges_source ON graph_edges (tenant_id, source_id)`,
			`CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges (tenant_id, target_id)`,
			`CREATE INDEX IF NOT EXISTS idx_entities_node ON entities (tenant_id, node_id)`,
			`CREATE INDEX IF NOT EXISTS idx_entity_edges_source ON entity_edges (tenant_id, source_entity_id)`,
			`CREATE INDEX IF NOT EXISTS idx_entity_edges_target ON entity_edges (tenant_id, target_entity_id)`,
		},
	},
}
