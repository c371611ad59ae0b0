package claude

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/claudeagent/claude/session"
)

// agentFrontmatter is the YAML header of an agent .md file.
type agentFrontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tools       toolList `yaml:"tools,omitempty"`
	Model       string   `yaml:"model,omitempty"`
}

// toolList accepts either a comma-separated string or a YAML sequence.
type toolList []string

func (l *toolList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var parts []string
		for _, p := range strings.Split(node.Value, ",") {
			if t := strings.TrimSpace(p); t != "" {
				parts = append(parts, t)
			}
		}
		*l = parts
		return nil
	case yaml.SequenceNode:
		var parts []string
		if err := node.Decode(&parts); err != nil {
			return err
		}
		*l = parts
		return nil
	default:
		return fmt.Errorf("line %d: tools must be a string or a list", node.Line)
	}
}

// LoadAgentFile parses a subagent definition from a markdown file with
// YAML frontmatter. The body becomes the agent prompt. The name defaults
// to the file name without its extension.
func LoadAgentFile(path string) (string, session.AgentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", session.AgentDefinition{}, fmt.Errorf("read agent file: %w", err)
	}
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return "", session.AgentDefinition{}, fmt.Errorf("parse agent file %s: %w", path, err)
	}

	var meta agentFrontmatter
	if err := yaml.Unmarshal(fm, &meta); err != nil {
		return "", session.AgentDefinition{}, fmt.Errorf("parse agent frontmatter %s: %w", path, err)
	}
	if meta.Description == "" {
		return "", session.AgentDefinition{}, fmt.Errorf("agent file %s: description is required", path)
	}
	name := meta.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return name, session.AgentDefinition{
		Description: meta.Description,
		Prompt:      body,
		Tools:       meta.Tools,
		Model:       meta.Model,
	}, nil
}

// LoadAgents reads every .md file in dir. A missing directory yields no
// agents. Duplicate names are an error.
func LoadAgents(dir string) (map[string]session.AgentDefinition, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agents directory: %w", err)
	}

	agents := make(map[string]session.AgentDefinition)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		name, def, err := LoadAgentFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := agents[name]; dup {
			return nil, fmt.Errorf("duplicate agent %q in %s", name, dir)
		}
		agents[name] = def
	}
	return agents, nil
}

// splitFrontmatter separates the YAML between the leading --- delimiters
// from the trimmed markdown body.
func splitFrontmatter(data []byte) ([]byte, string, error) {
	if !bytes.HasPrefix(data, []byte("---")) {
		return nil, "", errors.New("file must start with YAML frontmatter (---)")
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	var fm, body []string
	inFrontmatter, closed := false, false
	first := true
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case first:
			first = false
			inFrontmatter = line == "---"
			if !inFrontmatter {
				return nil, "", errors.New("file must start with YAML frontmatter (---)")
			}
		case inFrontmatter && line == "---":
			inFrontmatter, closed = false, true
		case inFrontmatter:
			fm = append(fm, line)
		default:
			body = append(body, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, "", fmt.Errorf("scan content: %w", err)
	}
	if !closed {
		return nil, "", errors.New("frontmatter not closed (missing ---)")
	}
	return []byte(strings.Join(fm, "\n")), strings.TrimSpace(strings.Join(body, "\n")), nil
}
