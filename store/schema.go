package store

// schemaSQL is the base DDL. Element rows are kept in document order via
// the position column.
const schemaSQL = `
-- Parsed documents with hash-based change detection
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    filename TEXT NOT NULL,
    format TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    text TEXT NOT NULL DEFAULT '',
    metadata JSON,
    warnings JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Structural elements of a document
CREATE TABLE IF NOT EXISTS elements (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    type TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    level INTEGER NOT NULL DEFAULT 0,
    items JSON,
    ordered INTEGER NOT NULL DEFAULT 0,
    src TEXT NOT NULL DEFAULT '',
    alt TEXT NOT NULL DEFAULT '',
    page INTEGER,
    x REAL,
    y REAL,
    UNIQUE(document_id, position)
);

-- Merged documents
CREATE TABLE IF NOT EXISTS merges (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL DEFAULT '',
    stats JSON NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS merge_elements (
    merge_id TEXT NOT NULL REFERENCES merges(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    type TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    level INTEGER NOT NULL DEFAULT 0,
    items JSON,
    ordered INTEGER NOT NULL DEFAULT 0,
    src TEXT NOT NULL DEFAULT '',
    alt TEXT NOT NULL DEFAULT '',
    page INTEGER,
    x REAL,
    y REAL,
    PRIMARY KEY (merge_id, position)
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_elements_document ON elements(document_id);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
CREATE INDEX IF NOT EXISTS idx_documents_format ON documents(format);
`

// ftsSQL adds full-text search over element text. It needs a SQLite
// built with FTS5 (go build -tags sqlite_fts5).
const ftsSQL = `
CREATE VIRTUAL TABLE IF NOT EXISTS elements_fts USING fts5(
    content,
    alt,
    content='elements',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS elements_ai AFTER INSERT ON elements BEGIN
    INSERT INTO elements_fts(rowid, content, alt) VALUES (new.id, new.content, new.alt);
END;
CREATE TRIGGER IF NOT EXISTS elements_ad AFTER DELETE ON elements BEGIN
    INSERT INTO elements_fts(elements_fts, rowid, content, alt) VALUES ('delete', old.id, old.content, old.alt);
END;
CREATE TRIGGER IF NOT EXISTS elements_au AFTER UPDATE ON elements BEGIN
    INSERT INTO elements_fts(elements_fts, rowid, content, alt) VALUES ('delete', old.id, old.content, old.alt);
    INSERT INTO elements_fts(elements_fts, rowid, content, alt) VALUES (new.id, new.content, new.alt);
END;
`
