package analysis

import (
	_ "embed"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

//go:embed prompts/commentary.md
var builtinCommentaryPrompt string

//go:embed prompts/report.md
var builtinReportPrompt string

const (
	commentaryFile = "commentary.md"
	reportFile     = "report.md"
)

// PromptManager resolves the system prompts. Files in Directory override the
// built-ins: commentary.md and report.md replace them, any other *.md file
// is appended to both as extra guidance.
type PromptManager struct {
	Directory string
	logger    *zap.Logger
}

func NewPromptManager(dir string, logger *zap.Logger) *PromptManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromptManager{Directory: dir, logger: logger}
}

func (pm *PromptManager) CommentarySystem() string {
	return pm.compose(commentaryFile, builtinCommentaryPrompt)
}

func (pm *PromptManager) ReportSystem() string {
	return pm.compose(reportFile, builtinReportPrompt)
}

func (pm *PromptManager) compose(name, builtin string) string {
	if pm == nil || pm.Directory == "" {
		return builtin
	}
	base := builtin
	if data, err := os.ReadFile(filepath.Join(pm.Directory, name)); err == nil && strings.TrimSpace(string(data)) != "" {
		base = string(data)
	}
	extra := pm.guidance()
	if len(extra) == 0 {
		return base
	}
	return base + "\n\n---\n\n" + strings.Join(extra, "\n\n---\n\n")
}

// guidance reads the extra prompt files in deterministic order.
func (pm *PromptManager) guidance() []string {
	entries, err := os.ReadDir(pm.Directory)
	if err != nil {
		if !os.IsNotExist(err) {
			pm.logger.Warn("failed to read prompts directory", zap.String("dir", pm.Directory), zap.Error(err))
		}
		return nil
	}

	order := map[string]int{
		"guidelines.md": 1,
	}
	sort.Slice(entries, func(i, j int) bool {
		oi, okI := order[entries[i].Name()]
		oj, okJ := order[entries[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return entries[i].Name() < entries[j].Name()
	})

	var contents []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".md") || name == commentaryFile || name == reportFile {
			continue
		}
		path := filepath.Join(pm.Directory, name)
		data, err := os.ReadFile(path)
		if err != nil {
			pm.logger.Warn("failed to read prompt file", zap.String("path", path), zap.Error(err))
			continue
		}
		contents = append(contents, strings.TrimSpace(string(data)))
	}
	return contents
}
