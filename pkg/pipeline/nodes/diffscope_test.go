package nodes

import "testing"

func TestAnalyseDiffScopeFlagsConfigAndDependencyFiles(t *testing.T) {
	diff := `diff --git a/src/main.go b/src/main.go
index 111..222 100644
--- a/src/main.go
+++ b/src/main.go
@@ -1 +1 @@
-old
+new
diff --git a/go.mod b/go.mod
index 333..444 100644
--- a/go.mod
+++ b/go.mod
@@ -1 +1 @@
-old
+new
diff --git a/.github/workflows/ci.yml b/.github/workflows/ci.yml
index 555..666 100644
--- a/.github/workflows/ci.yml
+++ b/.github/workflows/ci.yml
@@ -1 +1 @@
-old
+new
`
	flags := analyseDiffScope(diff)
	if len(flags) != 2 {
		t.Fatalf("expected 2 flags, got %d: %+v", len(flags), flags)
	}

	var sawDependency, sawConfig bool
	for _, f := range flags {
		switch f.File {
		case "go.mod":
			sawDependency = f.Check == "dependency_scope"
		case ".github/workflows/ci.yml":
			sawConfig = f.Check == "config_scope"
		}
	}
	if !sawDependency {
		t.Error("expected go.mod to be flagged as dependency_scope")
	}
	if !sawConfig {
		t.Error("expected .github/workflows/ci.yml to be flagged as config_scope")
	}
}

func TestAnalyseDiffScopeIgnoresOrdinarySourceFiles(t *testing.T) {
	diff := `diff --git a/src/main.go b/src/main.go
index 111..222 100644
--- a/src/main.go
+++ b/src/main.go
@@ -1 +1 @@
-old
+new
`
	if flags := analyseDiffScope(diff); len(flags) != 0 {
		t.Fatalf("expected no flags, got %+v", flags)
	}
}
