package database

const (
	createSchemaMigrationsTable = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)`

	selectAppliedMigrations = `SELECT version FROM schema_migrations ORDER BY version`

	insertAppliedMigration = `INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`

	selectSchemaVersion = `SELECT MAX(version) FROM schema_migrations`

	insertMessageQuery = `
		INSERT OR IGNORE INTO messages (group_id, sender_id, signal_timestamp, body, created_at)
		VALUES (?, ?, ?, ?, ?)`

	selectMessageIDQuery = `
		SELECT id FROM messages
		WHERE group_id = ? AND signal_timestamp = ? AND sender_id = ?`

	upsertReactionQuery = `
		INSERT INTO reactions (message_id, reactor_id, emoji, reacted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (message_id, reactor_id) DO UPDATE SET
			emoji = excluded.emoji,
			reacted_at = excluded.reacted_at
		WHERE excluded.reacted_at >= reactions.reacted_at`

	deleteReactionQuery = `DELETE FROM reactions WHERE message_id = ? AND reactor_id = ?`

	countMessagesQuery = `SELECT COUNT(*) FROM messages WHERE group_id = ?`

	selectGroupsWithMessagesQuery = `SELECT DISTINCT group_id FROM messages ORDER BY group_id`

	selectGroupPolicyQuery = `
		SELECT group_id, retention_override_hours, retention_mode, power_level,
			signal_timer_hours, purge_on_summary, created_at, updated_at
		FROM group_policies WHERE group_id = ?`

	insertDefaultGroupPolicyQuery = `
		INSERT OR IGNORE INTO group_policies (group_id, retention_mode, power_level, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	upsertGroupPolicyQuery = `
		INSERT INTO group_policies (
			group_id, retention_override_hours, retention_mode, power_level, purge_on_summary, created_at, updated_at
		) VALUES (
			:group_id, :retention_override_hours, :retention_mode, :power_level, :purge_on_summary, :created_at, :updated_at
		)
		ON CONFLICT (group_id) DO UPDATE SET
			retention_override_hours = excluded.retention_override_hours,
			retention_mode = excluded.retention_mode,
			power_level = excluded.power_level,
			purge_on_summary = excluded.purge_on_summary,
			updated_at = excluded.updated_at`

	// IS NOT compares NULLs as values
	updateSignalTimerQuery = `
		UPDATE group_policies SET signal_timer_hours = ?, updated_at = ?
		WHERE group_id = ? AND signal_timer_hours IS NOT ?`

	insertOptOutQuery = `INSERT OR IGNORE INTO user_opt_outs (group_id, sender_id, created_at) VALUES (?, ?, ?)`

	deleteOptOutQuery = `DELETE FROM user_opt_outs WHERE group_id = ? AND sender_id = ?`

	selectOptOutQuery = `SELECT COUNT(*) FROM user_opt_outs WHERE group_id = ? AND sender_id = ?`

	insertHandledCommandQuery = `
		INSERT OR IGNORE INTO handled_commands (group_id, sender_id, signal_timestamp, handled_at)
		VALUES (?, ?, ?, ?)`

	deleteHandledCommandsQuery = `DELETE FROM handled_commands WHERE handled_at < ?`

	insertScheduleQuery = `
		INSERT INTO schedules (
			name, source_group, target_group, schedule_type, schedule_times, day_of_week,
			timezone, summary_period_hours, retention_hours, detail_mode, enabled, created_at
		) VALUES (
			:name, :source_group, :target_group, :schedule_type, :schedule_times, :day_of_week,
			:timezone, :summary_period_hours, :retention_hours, :detail_mode, :enabled, :created_at
		)`

	selectScheduleColumns = `
		id, name, source_group, target_group, schedule_type, schedule_times, day_of_week,
		timezone, summary_period_hours, retention_hours, detail_mode, enabled, last_run, created_at`

	updateScheduleEnabledQuery = `UPDATE schedules SET enabled = ? WHERE id = ?`

	updateScheduleLastRunQuery = `UPDATE schedules SET last_run = ? WHERE id = ?`

	deleteScheduleQuery = `DELETE FROM schedules WHERE id = ?`

	insertSummaryRunQuery = `
		INSERT INTO summary_runs (id, schedule_id, started_at, message_count, status, dry_run)
		VALUES (:id, :schedule_id, :started_at, :message_count, :status, :dry_run)`

	finishSummaryRunQuery = `
		UPDATE summary_runs
		SET status = ?, completed_at = ?, message_count = ?, error_message = ?
		WHERE id = ? AND status = 'pending'`

	selectSummaryRunColumns = `
		id, schedule_id, started_at, completed_at, message_count, status, dry_run, error_message`
)
