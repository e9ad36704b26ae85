package nodes

import "regexp"

// ScopeFlag is a deterministic warning produced by analyseDiffScope, injected
// into the security reviewer's prompt so it pays extra attention to
// sensitive files touched by a diff. Layer 4 of the prompt-injection
// defense: purely regex-based, no LLM call.
type ScopeFlag struct {
	Check   string // "config_scope" | "dependency_scope"
	File    string
	Message string
}

var diffHeaderRE = regexp.MustCompile(`(?m)^diff --git a/.+ b/(.+)$`)

var configScopePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|/)Dockerfile`),
	regexp.MustCompile(`(^|/)docker-compose`),
	regexp.MustCompile(`(^|/)\.github/`),
	regexp.MustCompile(`(^|/)\.gitlab-ci`),
	regexp.MustCompile(`(^|/)Makefile$`),
	regexp.MustCompile(`\.tf$`),
	regexp.MustCompile(`(^|/)\.env`),
	regexp.MustCompile(`(^|/)k8s/`),
	regexp.MustCompile(`(^|/)deploy/`),
	regexp.MustCompile(`(^|/)Jenkinsfile`),
	regexp.MustCompile(`(^|/)Procfile$`),
	regexp.MustCompile(`(^|/)nginx\.conf`),
}

var dependencyScopePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|/)package\.json$`),
	regexp.MustCompile(`(^|/)package-lock\.json$`),
	regexp.MustCompile(`(^|/)requirements.*\.txt$`),
	regexp.MustCompile(`(^|/)pyproject\.toml$`),
	regexp.MustCompile(`(^|/)Cargo\.toml$`),
	regexp.MustCompile(`(^|/)go\.mod$`),
	regexp.MustCompile(`(^|/)go\.sum$`),
	regexp.MustCompile(`(^|/)Gemfile`),
	regexp.MustCompile(`(^|/)pom\.xml$`),
	regexp.MustCompile(`(^|/)build\.gradle`),
	regexp.MustCompile(`(^|/)yarn\.lock$`),
	regexp.MustCompile(`(^|/)pnpm-lock\.yaml$`),
	regexp.MustCompile(`(^|/)composer\.json$`),
	regexp.MustCompile(`(^|/)Pipfile`),
}

// analyseDiffScope scans a unified diff's modified file paths for
// config/infrastructure and dependency-manifest changes. Informational only
// — it never blocks a review, but the flags it returns get folded into the
// security reviewer's prompt.
func analyseDiffScope(diff string) []ScopeFlag {
	var flags []ScopeFlag
	for _, m := range diffHeaderRE.FindAllStringSubmatch(diff, -1) {
		path := m[1]
		for _, p := range configScopePatterns {
			if p.MatchString(path) {
				flags = append(flags, ScopeFlag{Check: "config_scope", File: path, Message: "Configuration/infrastructure file modified: " + path})
				break
			}
		}
		for _, p := range dependencyScopePatterns {
			if p.MatchString(path) {
				flags = append(flags, ScopeFlag{Check: "dependency_scope", File: path, Message: "Dependency manifest modified: " + path})
				break
			}
		}
	}
	return flags
}
