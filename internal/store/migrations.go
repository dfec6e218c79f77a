package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
// Dates are stored as unix seconds so that day-range lookups compare
// integers rather than formatted strings.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL CHECK(kind IN ('message', 'checklist', 'checkin')),
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_kind_status ON tasks(kind, status);

CREATE TABLE IF NOT EXISTS item_groups (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	color      TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_item_groups_title ON item_groups(title COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS checklists (
	id         TEXT PRIMARY KEY,
	day_start  INTEGER NOT NULL,
	notes      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checklists_day_start ON checklists(day_start);

CREATE TABLE IF NOT EXISTS checklist_items (
	id           TEXT PRIMARY KEY,
	checklist_id TEXT NOT NULL REFERENCES checklists(id) ON DELETE CASCADE,
	title        TEXT NOT NULL,
	is_completed INTEGER NOT NULL DEFAULT 0 CHECK(is_completed IN (0, 1)),
	notification INTEGER,
	group_id     TEXT REFERENCES item_groups(id) ON DELETE SET NULL,
	sort_order   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_checklist_items_checklist_id ON checklist_items(checklist_id);
CREATE INDEX IF NOT EXISTS idx_checklist_items_group_id ON checklist_items(group_id);

CREATE TABLE IF NOT EXISTS checklist_subitems (
	id           TEXT PRIMARY KEY,
	item_id      TEXT NOT NULL REFERENCES checklist_items(id) ON DELETE CASCADE,
	title        TEXT NOT NULL,
	is_completed INTEGER NOT NULL DEFAULT 0 CHECK(is_completed IN (0, 1)),
	sort_order   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_checklist_subitems_item_id ON checklist_subitems(item_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS chat_messages (
	id              TEXT PRIMARY KEY,
	task_id         TEXT NOT NULL DEFAULT '',
	role            TEXT NOT NULL CHECK(role IN ('user', 'assistant')),
	content         TEXT NOT NULL,
	server_response TEXT,
	created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_created ON chat_messages(created_at);

CREATE TABLE IF NOT EXISTS checkins (
	id            TEXT PRIMARY KEY,
	task_id       TEXT NOT NULL,
	day_start     INTEGER NOT NULL,
	mood          INTEGER NOT NULL DEFAULT 0,
	energy        INTEGER NOT NULL DEFAULT 0,
	note          TEXT NOT NULL DEFAULT '',
	analysis      TEXT,
	local_summary TEXT,
	created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkins_task_id ON checkins(task_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
