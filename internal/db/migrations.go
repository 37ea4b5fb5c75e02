package db

// Fact tables are written by the surrounding commerce application and read
// here through the resolver's FactSource contract. Entity tables belong to
// segmentry itself.

const migrationRecipients = `
CREATE TABLE IF NOT EXISTS recipients (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migrationPurchases = `
CREATE TABLE IF NOT EXISTS purchases (
	id TEXT PRIMARY KEY,
	recipient_id TEXT NOT NULL REFERENCES recipients(id) ON DELETE CASCADE,
	amount REAL NOT NULL,
	purchased_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_purchases_recipient ON purchases(recipient_id);
`

const migrationAttendance = `
CREATE TABLE IF NOT EXISTS attendance (
	id TEXT PRIMARY KEY,
	recipient_id TEXT NOT NULL REFERENCES recipients(id) ON DELETE CASCADE,
	event_id TEXT NOT NULL,
	attended_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attendance_recipient ON attendance(recipient_id);
`

const migrationPasses = `
CREATE TABLE IF NOT EXISTS passes (
	id TEXT PRIMARY KEY,
	recipient_id TEXT NOT NULL REFERENCES recipients(id) ON DELETE CASCADE,
	pass_type TEXT NOT NULL,
	issued_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_passes_recipient ON passes(recipient_id);
`

const migrationEngagement = `
CREATE TABLE IF NOT EXISTS engagement (
	recipient_id TEXT PRIMARY KEY REFERENCES recipients(id) ON DELETE CASCADE,
	level TEXT NOT NULL DEFAULT 'low',
	email_opens INTEGER NOT NULL DEFAULT 0,
	email_clicks INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migrationSegments = `
CREATE TABLE IF NOT EXISTS segments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	predicates TEXT NOT NULL,
	is_dynamic INTEGER NOT NULL DEFAULT 0,
	estimated_size INTEGER NOT NULL DEFAULT 0,
	last_calculated_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

const migrationCampaigns = `
CREATE TABLE IF NOT EXISTS campaigns (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'draft',
	actual_audience_size INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

const migrationCampaignSteps = `
CREATE TABLE IF NOT EXISTS campaign_steps (
	id TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	step_number INTEGER NOT NULL,
	channel TEXT NOT NULL,
	delay_days INTEGER NOT NULL DEFAULT 0,
	delay_hours INTEGER NOT NULL DEFAULT 0,
	subject TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	cta TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE(campaign_id, step_number)
);
`

const migrationCampaignAudiences = `
CREATE TABLE IF NOT EXISTS campaign_audiences (
	id TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	segment_id TEXT NOT NULL REFERENCES segments(id) ON DELETE CASCADE,
	estimated_size_snapshot INTEGER NOT NULL DEFAULT 0,
	attached_at TIMESTAMP NOT NULL,
	UNIQUE(campaign_id, segment_id)
);
`
