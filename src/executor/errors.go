package executor

import "errors"

var (
	// ErrScriptNotFound means the ask script is missing from the scripts directory
	ErrScriptNotFound = errors.New("script not found")

	// ErrSessionStopped means the tmux session the executor drives is not running
	ErrSessionStopped = errors.New("executor session is not running")

	// Skill errors
	ErrSkillNotFound   = errors.New("skill not found")
	ErrSkillNoManifest = errors.New("skill has no SKILL.md")
)
