package repository

// schema is applied on every start; each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS spots (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		note       TEXT NOT NULL DEFAULT '',
		photo_url  TEXT NOT NULL DEFAULT '',
		photo_path TEXT NOT NULL DEFAULT '',
		lat        DOUBLE PRECISION NOT NULL,
		lng        DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS spots_created_at_idx ON spots (created_at DESC, id)`,
	`CREATE TABLE IF NOT EXISTS spot_votes (
		spot_id    TEXT NOT NULL REFERENCES spots (id) ON DELETE CASCADE,
		voter_id   TEXT NOT NULL,
		rating     SMALLINT CHECK (rating BETWEEN 1 AND 5),
		verdict    TEXT CHECK (verdict IN ('buff', 'frame')),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (spot_id, voter_id)
	)`,
	`CREATE TABLE IF NOT EXISTS photo_deletions (
		path      TEXT PRIMARY KEY,
		attempts  INT NOT NULL DEFAULT 0,
		queued_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}
