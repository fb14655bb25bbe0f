package store

// schema is applied statement by statement; libsql over HTTP does not accept
// multi-statement batches.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id TEXT NOT NULL UNIQUE,
		user_id TEXT,
		username TEXT,
		name TEXT,
		text TEXT,
		html TEXT,
		likes INTEGER,
		retweets INTEGER,
		replies INTEGER,
		views INTEGER,
		bookmark_count INTEGER,
		is_retweet BOOLEAN,
		is_reply BOOLEAN,
		is_quoted BOOLEAN,
		is_pin BOOLEAN,
		is_self_thread BOOLEAN,
		sensitive_content BOOLEAN,
		hashtags TEXT,
		urls TEXT,
		conversation_id TEXT,
		parent_thread_id TEXT REFERENCES posts(post_id),
		permanent_url TEXT,
		timestamp TEXT,
		time_parsed TEXT,
		ingested_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS mentions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id TEXT NOT NULL REFERENCES posts(post_id),
		user_id TEXT,
		username TEXT NOT NULL COLLATE NOCASE,
		name TEXT,
		UNIQUE(post_id, username)
	)`,
	`CREATE TABLE IF NOT EXISTS photos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		photo_id TEXT NOT NULL UNIQUE,
		post_id TEXT NOT NULL REFERENCES posts(post_id),
		url TEXT NOT NULL,
		alt_text TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS videos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id TEXT NOT NULL UNIQUE,
		post_id TEXT NOT NULL REFERENCES posts(post_id),
		url TEXT NOT NULL,
		preview TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		name TEXT,
		contract_address TEXT,
		chain TEXT,
		decimals INTEGER,
		market_cap REAL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS post_assets (
		post_id TEXT NOT NULL REFERENCES posts(post_id),
		asset_id INTEGER NOT NULL REFERENCES assets(id),
		run_id TEXT,
		linked_at TEXT NOT NULL,
		PRIMARY KEY (post_id, asset_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_username ON posts(username)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_parent ON posts(parent_thread_id)`,
	`CREATE INDEX IF NOT EXISTS idx_mentions_post ON mentions(post_id)`,
	`CREATE INDEX IF NOT EXISTS idx_photos_post ON photos(post_id)`,
	`CREATE INDEX IF NOT EXISTS idx_videos_post ON videos(post_id)`,
	`CREATE INDEX IF NOT EXISTS idx_assets_symbol ON assets(lower(symbol))`,
	`CREATE INDEX IF NOT EXISTS idx_post_assets_asset ON post_assets(asset_id)`,
}
