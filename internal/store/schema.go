package store

// schema creates every table the store needs: accounts, the two item
// tables, their FTS5 keyword indexes, their vec0 ANN indexes, and the
// manifest table a reader uses to observe a consistent snapshot.
const schema = `
CREATE TABLE IF NOT EXISTS manifest (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	generation INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO manifest (id, generation) VALUES (1, 0);

CREATE TABLE IF NOT EXISTS accounts (
	email TEXT PRIMARY KEY,
	alias TEXT,
	display_name TEXT,
	status TEXT NOT NULL DEFAULT 'active',
	added_at DATETIME NOT NULL,
	last_email_sync DATETIME,
	last_calendar_sync DATETIME,
	email_sync_enabled INTEGER NOT NULL DEFAULT 1,
	calendar_sync_enabled INTEGER NOT NULL DEFAULT 1,
	folder_allowlist TEXT,
	download_attachments INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS mail_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL REFERENCES accounts(email) ON DELETE CASCADE,
	provider_msg_id INTEGER NOT NULL DEFAULT 0,
	provider_thread_id INTEGER NOT NULL DEFAULT 0,
	message_id TEXT NOT NULL DEFAULT '',
	folder TEXT NOT NULL,
	uid INTEGER NOT NULL,
	uid_validity INTEGER NOT NULL,
	in_reply_to TEXT,
	references_json TEXT,
	labels_json TEXT,
	flags_json TEXT,
	from_name TEXT,
	from_email TEXT,
	to_json TEXT,
	cc_json TEXT,
	bcc_json TEXT,
	subject TEXT NOT NULL DEFAULT '',
	date DATETIME,
	body_text TEXT NOT NULL DEFAULT '',
	body_html TEXT,
	snippet TEXT NOT NULL DEFAULT '',
	attachments_json TEXT,
	needs_reembed INTEGER NOT NULL DEFAULT 1,
	synced_at DATETIME NOT NULL,
	raw_size INTEGER NOT NULL DEFAULT 0,
	UNIQUE(account_id, folder, uid, uid_validity)
);

CREATE INDEX IF NOT EXISTS idx_mail_account ON mail_items(account_id);
CREATE INDEX IF NOT EXISTS idx_mail_message_id ON mail_items(message_id);
CREATE INDEX IF NOT EXISTS idx_mail_thread ON mail_items(provider_thread_id);
CREATE INDEX IF NOT EXISTS idx_mail_date ON mail_items(date);
CREATE INDEX IF NOT EXISTS idx_mail_folder ON mail_items(account_id, folder);
CREATE INDEX IF NOT EXISTS idx_mail_needs_reembed ON mail_items(needs_reembed) WHERE needs_reembed = 1;

CREATE VIRTUAL TABLE IF NOT EXISTS mail_fts USING fts5(
	subject,
	body_text,
	from_email,
	content='mail_items',
	content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS mail_fts_insert AFTER INSERT ON mail_items BEGIN
	INSERT INTO mail_fts(rowid, subject, body_text, from_email)
	VALUES (new.id, new.subject, new.body_text, new.from_email);
END;
CREATE TRIGGER IF NOT EXISTS mail_fts_delete AFTER DELETE ON mail_items BEGIN
	INSERT INTO mail_fts(mail_fts, rowid, subject, body_text, from_email)
	VALUES ('delete', old.id, old.subject, old.body_text, old.from_email);
END;
CREATE TRIGGER IF NOT EXISTS mail_fts_update AFTER UPDATE ON mail_items BEGIN
	INSERT INTO mail_fts(mail_fts, rowid, subject, body_text, from_email)
	VALUES ('delete', old.id, old.subject, old.body_text, old.from_email);
	INSERT INTO mail_fts(rowid, subject, body_text, from_email)
	VALUES (new.id, new.subject, new.body_text, new.from_email);
END;

CREATE TABLE IF NOT EXISTS calendar_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL REFERENCES accounts(email) ON DELETE CASCADE,
	calendar_id TEXT NOT NULL,
	provider_event_id TEXT NOT NULL DEFAULT '',
	uid TEXT NOT NULL,
	etag TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	description TEXT,
	location TEXT,
	start DATETIME,
	end DATETIME,
	all_day INTEGER NOT NULL DEFAULT 0,
	timezone TEXT,
	recurrence_rule TEXT,
	recurrence_id TEXT,
	organizer_json TEXT,
	attendees_json TEXT,
	status TEXT NOT NULL DEFAULT 'confirmed',
	transparency TEXT NOT NULL DEFAULT 'busy',
	reminders_json TEXT,
	needs_reembed INTEGER NOT NULL DEFAULT 1,
	synced_at DATETIME NOT NULL,
	UNIQUE(account_id, calendar_id, uid)
);

CREATE INDEX IF NOT EXISTS idx_cal_account ON calendar_items(account_id);
CREATE INDEX IF NOT EXISTS idx_cal_calendar ON calendar_items(account_id, calendar_id);
CREATE INDEX IF NOT EXISTS idx_cal_start ON calendar_items(start);
CREATE INDEX IF NOT EXISTS idx_cal_needs_reembed ON calendar_items(needs_reembed) WHERE needs_reembed = 1;

CREATE VIRTUAL TABLE IF NOT EXISTS calendar_fts USING fts5(
	summary,
	description,
	location,
	content='calendar_items',
	content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS calendar_fts_insert AFTER INSERT ON calendar_items BEGIN
	INSERT INTO calendar_fts(rowid, summary, description, location)
	VALUES (new.id, new.summary, new.description, new.location);
END;
CREATE TRIGGER IF NOT EXISTS calendar_fts_delete AFTER DELETE ON calendar_items BEGIN
	INSERT INTO calendar_fts(calendar_fts, rowid, summary, description, location)
	VALUES ('delete', old.id, old.summary, old.description, old.location);
END;
CREATE TRIGGER IF NOT EXISTS calendar_fts_update AFTER UPDATE ON calendar_items BEGIN
	INSERT INTO calendar_fts(calendar_fts, rowid, summary, description, location)
	VALUES ('delete', old.id, old.summary, old.description, old.location);
	INSERT INTO calendar_fts(rowid, summary, description, location)
	VALUES (new.id, new.summary, new.description, new.location);
END;

CREATE TABLE IF NOT EXISTS mail_embedding_meta (
	mail_item_id INTEGER PRIMARY KEY REFERENCES mail_items(id) ON DELETE CASCADE,
	model TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS calendar_embedding_meta (
	calendar_item_id INTEGER PRIMARY KEY REFERENCES calendar_items(id) ON DELETE CASCADE,
	model TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// vecSchema is applied after the sqlite-vec extension is registered; the
// vec0 virtual tables need the EmbeddingDimension baked into their DDL.
const vecSchemaTmpl = `
CREATE VIRTUAL TABLE IF NOT EXISTS mail_embeddings USING vec0(
	mail_item_id INTEGER PRIMARY KEY,
	embedding FLOAT[%d]
);
CREATE VIRTUAL TABLE IF NOT EXISTS calendar_embeddings USING vec0(
	calendar_item_id INTEGER PRIMARY KEY,
	embedding FLOAT[%d]
);
`
