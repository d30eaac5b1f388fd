package runstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    input_json TEXT NOT NULL,
    status TEXT NOT NULL,
    current_stage INTEGER NOT NULL DEFAULT 0,
    result_json TEXT,
    error_kind TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);

CREATE TABLE IF NOT EXISTS checkpoints (
    run_id TEXT NOT NULL,
    ordinal INTEGER NOT NULL,
    stage_name TEXT NOT NULL,
    payload TEXT NOT NULL,
    committed_at TEXT NOT NULL,
    PRIMARY KEY (run_id, ordinal),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);
`
