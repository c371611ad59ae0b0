package claudecontract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TestedCLIVersion is the Claude CLI version this code was tested against.
// When the detected CLI version is newer, a warning is logged.
const TestedCLIVersion = "2.1.19"

// MinimumCLIVersion is the oldest CLI that speaks the control protocol.
const MinimumCLIVersion = "2.0.0"

// versionDetectTimeout bounds how long `claude --version` may run.
const versionDetectTimeout = 2 * time.Second

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// CLIVersion represents a parsed Claude CLI version.
type CLIVersion struct {
	Major int
	Minor int
	Patch int
	Raw   string
}

// ParseVersion parses a version string like "2.1.19 (Claude Code)".
func ParseVersion(s string) (*CLIVersion, error) {
	s = strings.TrimSpace(s)
	matches := versionPattern.FindStringSubmatch(s)
	if matches == nil {
		return nil, fmt.Errorf("invalid version format: %q", s)
	}

	major, _ := strconv.Atoi(matches[1])
	minor, _ := strconv.Atoi(matches[2])
	patch, _ := strconv.Atoi(matches[3])

	return &CLIVersion{
		Major: major,
		Minor: minor,
		Patch: patch,
		Raw:   matches[0],
	}, nil
}

// MustParseVersion parses a version string, panicking on error.
// Use only for known-good version constants.
func MustParseVersion(s string) *CLIVersion {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// DetectCLIVersion runs the claude binary and parses its version.
func DetectCLIVersion(ctx context.Context, claudePath string) (*CLIVersion, error) {
	if claudePath == "" {
		claudePath = "claude"
	}

	ctx, cancel := context.WithTimeout(ctx, versionDetectTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, claudePath, FlagVersion).Output()
	if err != nil {
		return nil, fmt.Errorf("run %s %s: %w", claudePath, FlagVersion, err)
	}

	return ParseVersion(string(out))
}

// String returns the version as a string.
func (v *CLIVersion) String() string {
	return v.Raw
}

// Compare returns -1 if v < other, 0 if v == other, 1 if v > other.
func (v *CLIVersion) Compare(other *CLIVersion) int {
	switch {
	case v.Major != other.Major:
		return cmpInt(v.Major, other.Major)
	case v.Minor != other.Minor:
		return cmpInt(v.Minor, other.Minor)
	default:
		return cmpInt(v.Patch, other.Patch)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// IsNewerThan returns true if v is newer than other.
func (v *CLIVersion) IsNewerThan(other *CLIVersion) bool {
	return v.Compare(other) > 0
}

// IsOlderThan returns true if v is older than other.
func (v *CLIVersion) IsOlderThan(other *CLIVersion) bool {
	return v.Compare(other) < 0
}

// IsSupported reports whether v is at least MinimumCLIVersion.
func (v *CLIVersion) IsSupported() bool {
	return !v.IsOlderThan(MustParseVersion(MinimumCLIVersion))
}

// WarnIfUntested logs a warning if this version is newer than the tested
// version or older than the minimum supported one.
func (v *CLIVersion) WarnIfUntested(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if !v.IsSupported() {
		logger.Warn("Claude CLI version is unsupported by the agent SDK",
			"cli_version", v.Raw,
			"minimum_version", MinimumCLIVersion,
			"note", "Some features may not work correctly",
		)
		return
	}
	if v.IsNewerThan(MustParseVersion(TestedCLIVersion)) {
		logger.Warn("Claude CLI version is newer than SDK tested version",
			"cli_version", v.Raw,
			"tested_version", TestedCLIVersion,
			"note", "Some features may not work as expected",
		)
	}
}

// CheckVersion detects the CLI version and warns if it is untested or too old.
// Returns the detected version, or nil if detection fails or the check is
// disabled through EnvSkipVersionCheck.
func CheckVersion(ctx context.Context, claudePath string, logger *slog.Logger) *CLIVersion {
	if os.Getenv(EnvSkipVersionCheck) != "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	v, err := DetectCLIVersion(ctx, claudePath)
	if err != nil {
		logger.Debug("Could not detect Claude CLI version", "error", err)
		return nil
	}
	v.WarnIfUntested(logger)
	return v
}
