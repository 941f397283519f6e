package postgresql

// migrations returns the ordered schema migrations for the mailflow tables.
// Counters live in dedicated columns so stat increments stay atomic SQL
// updates; graph and history payloads are JSONB documents.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS flows (
				id TEXT NOT NULL,
				version INTEGER NOT NULL,
				name TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'draft',
				start_node_id TEXT NOT NULL,
				nodes JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				PRIMARY KEY (id, version)
			);

			CREATE TABLE IF NOT EXISTS audiences (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				recipients JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS email_templates (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				subject TEXT NOT NULL,
				body TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS campaigns (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				flow_id TEXT NOT NULL,
				flow_version INTEGER NOT NULL,
				audience_id TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'draft',
				sender JSONB NOT NULL,
				template_overrides JSONB,
				stats_total INTEGER NOT NULL DEFAULT 0,
				stats_sent INTEGER NOT NULL DEFAULT 0,
				stats_delivered INTEGER NOT NULL DEFAULT 0,
				stats_opened INTEGER NOT NULL DEFAULT 0,
				stats_replied INTEGER NOT NULL DEFAULT 0,
				stats_bounced INTEGER NOT NULL DEFAULT 0,
				stats_errors INTEGER NOT NULL DEFAULT 0,
				open_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
				response_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
				stats_updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				scheduled_at TIMESTAMP WITH TIME ZONE,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS recipient_states (
				campaign_id TEXT NOT NULL,
				recipient_email TEXT NOT NULL,
				current_node_id TEXT NOT NULL DEFAULT '',
				reply_detected BOOLEAN NOT NULL DEFAULT FALSE,
				last_message_id TEXT NOT NULL DEFAULT '',
				history JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				PRIMARY KEY (campaign_id, recipient_email)
			);

			CREATE TABLE IF NOT EXISTS email_events (
				id TEXT PRIMARY KEY,
				campaign_id TEXT NOT NULL,
				recipient_email TEXT NOT NULL,
				type TEXT NOT NULL,
				message_id TEXT NOT NULL DEFAULT '',
				payload JSONB,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_email_events_campaign
				ON email_events (campaign_id, created_at DESC);

			CREATE INDEX IF NOT EXISTS idx_email_events_open_lookup
				ON email_events (campaign_id, recipient_email, type);

			CREATE INDEX IF NOT EXISTS idx_campaigns_scheduled
				ON campaigns (status, scheduled_at);
		`,
	}
}
