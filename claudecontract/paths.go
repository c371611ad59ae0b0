package claudecontract

import (
	"path/filepath"
	"slices"
	"strings"
)

// Directory names used by Claude Code for session storage.
const (
	// DirClaude is the main Claude configuration directory.
	DirClaude = ".claude"

	// DirProjects is the projects directory holding session transcripts.
	DirProjects = "projects"
)

// TranscriptExt is the file extension of session transcripts.
const TranscriptExt = ".jsonl"

// SettingSource represents a source for loading settings.
type SettingSource string

const (
	// SettingSourceUser is the global user settings (~/.claude/settings.json).
	SettingSourceUser SettingSource = "user"

	// SettingSourceProject is the project settings (.claude/settings.json).
	SettingSourceProject SettingSource = "project"

	// SettingSourceLocal is the local settings (.claude/settings.local.json).
	SettingSourceLocal SettingSource = "local"
)

// ValidSettingSources returns all valid setting sources.
func ValidSettingSources() []SettingSource {
	return []SettingSource{
		SettingSourceUser,
		SettingSourceProject,
		SettingSourceLocal,
	}
}

// IsValid returns true if the setting source is recognized.
func (s SettingSource) IsValid() bool {
	return slices.Contains(ValidSettingSources(), s)
}

// NormalizeProjectPath converts an absolute working directory to the
// directory name Claude Code uses under ~/.claude/projects.
// Example: /home/user/repos/project -> -home-user-repos-project
func NormalizeProjectPath(path string) string {
	normalized := strings.TrimPrefix(filepath.ToSlash(path), "/")
	normalized = strings.ReplaceAll(normalized, "/", "-")
	normalized = strings.ReplaceAll(normalized, ".", "-")
	return "-" + normalized
}

// TranscriptPath returns ~/.claude/projects/{normalized-workdir}/{sessionID}.jsonl
// rooted at configDir (the .claude directory). Returns "" when any input is empty.
func TranscriptPath(configDir, workdir, sessionID string) string {
	if configDir == "" || workdir == "" || sessionID == "" {
		return ""
	}
	return filepath.Join(configDir, DirProjects, NormalizeProjectPath(workdir), sessionID+TranscriptExt)
}
