package api

import (
	"fmt"
	"strings"
)

// allowedTestCommandPrefixes is the fixed allow-list of base commands a
// trigger's test_command may start with (spec.md §6).
var allowedTestCommandPrefixes = []string{
	"pytest",
	"python -m pytest",
	"npm test",
	"npm run test",
	"npx jest",
	"yarn test",
	"pnpm test",
	"go test",
	"cargo test",
	"mvn test",
	"mvn verify",
	"gradle test",
	"gradlew test",
	"./gradlew test",
	"make test",
	"make check",
	"bundle exec rspec",
	"phpunit",
	"dotnet test",
}

// forbiddenTestCommandTokens bars shell metacharacters that could chain or
// redirect into something other than a single test invocation.
var forbiddenTestCommandTokens = []string{
	";", "|", "\\", "`", "\n", "$(", "&&", "||", ">>", ">", "<",
}

// sanitizeTestCommand strips surrounding whitespace, defaults an empty
// command to pytest, rejects any shell metacharacter, and requires the
// result to start with one of the fixed allow-listed base commands.
func sanitizeTestCommand(raw string) (string, error) {
	cmd := strings.TrimSpace(raw)
	if cmd == "" {
		cmd = "pytest"
	}

	for _, tok := range forbiddenTestCommandTokens {
		if strings.Contains(cmd, tok) {
			return "", fmt.Errorf("test command contains disallowed shell metacharacters: %q", tok)
		}
	}

	for _, prefix := range allowedTestCommandPrefixes {
		if cmd == prefix || strings.HasPrefix(cmd, prefix+" ") {
			return cmd, nil
		}
	}
	return "", fmt.Errorf("test command must begin with one of the allowed base commands")
}
