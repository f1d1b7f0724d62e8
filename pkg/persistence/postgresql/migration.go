package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Process definitions are append-only: one row per deployed version.
			CREATE TABLE process_definitions (
				id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL,
				name VARCHAR(255),
				graph JSONB NOT NULL,
				deployed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (id, version)
			);

			CREATE TABLE process_instances (
				key UUID PRIMARY KEY,
				definition_id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'completed', 'terminated', 'failed')),
				current_node_id VARCHAR(255),
				variables JSONB,
				failure_reason TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_process_instances_status ON process_instances(status);
			CREATE INDEX idx_process_instances_definition ON process_instances(definition_id, version);

			CREATE TABLE jobs (
				key UUID PRIMARY KEY,
				instance_key UUID NOT NULL REFERENCES process_instances(key) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				task_type VARCHAR(255) NOT NULL,
				state VARCHAR(50) NOT NULL CHECK (state IN ('created', 'leased', 'completed', 'failed', 'cancelled')),
				variables JSONB,
				retries INTEGER NOT NULL DEFAULT 0,
				worker_id VARCHAR(255),
				lease_expires TIMESTAMP WITH TIME ZONE,
				error_message TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_jobs_state_type ON jobs(state, task_type, created_at);
			CREATE INDEX idx_jobs_instance ON jobs(instance_key);
			CREATE INDEX idx_jobs_lease_expires ON jobs(lease_expires) WHERE state = 'leased';
		`,
	}
}
