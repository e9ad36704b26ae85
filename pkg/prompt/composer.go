// Package prompt assembles the layered prompts fed to each pipeline agent
// role: a static role system prompt, optional repo context, the task
// payload, and any loop feedback from a prior iteration.
package prompt

import "strings"

// maxRepoContextChars bounds how much repo context (AGENTS.md + directory
// tree) is folded into a system prompt before being truncated.
const maxRepoContextChars = 48_000

// Composer builds the four prompt layers documented per role: a static
// role system prompt (Layer 1), repo context (Layer 2), the task payload
// (Layer 3), and loop feedback from a previous iteration (Layer 4).
// Stateless and safe for concurrent use.
type Composer struct{}

// NewComposer returns a ready-to-use Composer.
func NewComposer() *Composer {
	return &Composer{}
}

// ComposeSystemPrompt builds Layers 1+2: the role's static template plus an
// optional repo context block.
func (c *Composer) ComposeSystemPrompt(role, repoContext string) string {
	template, ok := roleTemplates[role]
	if !ok {
		template = genericRoleTemplate
	}
	if repoContext == "" {
		return template
	}
	return template + "\n\n## Repository Context\n\n" + truncate(repoContext, maxRepoContextChars)
}

// ComposeUserPrompt builds Layers 3+4: the task payload plus optional
// feedback from a previous loop iteration.
func (c *Composer) ComposeUserPrompt(taskPayload, feedback string) string {
	if feedback == "" {
		return taskPayload
	}
	return taskPayload + "\n\n## Previous Feedback\n\n" + feedback
}

// RepoContext holds the inputs to BuildRepoContext.
type RepoContext struct {
	AgentsMD      string
	DirectoryTree string
	Language      string
	TestCommand   string
}

// BuildRepoContext assembles Layer 2 from a repo's AGENTS.md/CLAUDE.md
// contents, its directory tree, and its language/test-command metadata.
func (c *Composer) BuildRepoContext(rc RepoContext) string {
	var parts []string
	if rc.AgentsMD != "" {
		parts = append(parts, "### AGENTS.md\n\n"+rc.AgentsMD)
	}
	if rc.Language != "" {
		parts = append(parts, "### Language: "+rc.Language)
	}
	if rc.TestCommand != "" {
		parts = append(parts, "### Test command: `"+rc.TestCommand+"`")
	}
	if rc.DirectoryTree != "" {
		parts = append(parts, "### Directory Structure\n\n```\n"+rc.DirectoryTree+"\n```")
	}
	return strings.Join(parts, "\n\n")
}

func truncate(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + "\n... (truncated)"
}
