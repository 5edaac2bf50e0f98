package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PromptManager assembles system prompts from markdown files. Shared files
// sit at the top of Directory; agents/<name>.md adds per-agent text.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

var sharedOrder = map[string]int{
	"identity.md":         1,
	"soul.md":             2,
	"capabilities.md":     3,
	"worker_directive.md": 4,
	"user.md":             5,
}

// GetSharedPrompt joins every top-level .md file, known files first.
func (pm *PromptManager) GetSharedPrompt() (string, error) {
	entries, err := os.ReadDir(pm.Directory)
	if err != nil {
		return "", fmt.Errorf("failed to read prompts directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		oi, okI := sharedOrder[entries[i].Name()]
		oj, okJ := sharedOrder[entries[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI != okJ {
			return okI
		}
		return entries[i].Name() < entries[j].Name()
	})

	var contents []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(pm.Directory, e.Name()))
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file %s: %w", e.Name(), err)
		}
		contents = append(contents, strings.TrimSpace(string(data)))
	}
	return strings.Join(contents, "\n\n---\n\n"), nil
}

// GetAgentPrompt returns the shared prompt followed by the agent's own
// file and then inline, either of which may be absent.
func (pm *PromptManager) GetAgentPrompt(name, inline string) (string, error) {
	var parts []string

	if pm.Directory != "" {
		if _, err := os.Stat(pm.Directory); err == nil {
			shared, err := pm.GetSharedPrompt()
			if err != nil {
				return "", err
			}
			if shared != "" {
				parts = append(parts, shared)
			}

			path := filepath.Join(pm.Directory, "agents", strings.ToLower(name)+".md")
			data, err := os.ReadFile(path)
			switch {
			case err == nil:
				parts = append(parts, strings.TrimSpace(string(data)))
			case !os.IsNotExist(err):
				return "", fmt.Errorf("failed to read agent prompt: %w", err)
			}
		}
	}

	if s := strings.TrimSpace(inline); s != "" {
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no prompt found for agent %s", name)
	}
	return strings.Join(parts, "\n\n---\n\n"), nil
}
