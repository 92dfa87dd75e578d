package controller

const (
	logKeyEpisode = "episode"
	logKeyEntity  = "entity_id"
	logKeyRunID   = "run_id"
	logKeyAttempt = "attempt"

	auditTaskName  = "consistency_audit"
	followWorker   = "follow"
	notesSeparator = "; "
)
