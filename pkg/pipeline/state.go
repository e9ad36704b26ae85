// Package pipeline implements the Pipeline State record, the Graph Engine's
// node contract, and (in the nodes subpackage) the twelve stage nodes
// themselves.
package pipeline

import (
	"fmt"
	"reflect"
)

// RepoRef identifies one repository affected by a CR, along with the
// worktree it has been checked out into once worktree_setup has run.
type RepoRef struct {
	RepoName       string `json:"repo_name"`
	RepoURL        string `json:"repo_url"`
	DefaultBranch  string `json:"default_branch"`
	TestCommand    string `json:"test_command"`
	Language       string `json:"language"`
	WorktreePath   string `json:"worktree_path,omitempty"`
	AgentsMD       string `json:"agents_md,omitempty"`
	DirectoryTree  string `json:"directory_tree,omitempty"`
}

// StructuredCR is the normalized change request produced by the intake node.
type StructuredCR struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	AffectedDomains    []string `json:"affected_domains"`
	Priority           string   `json:"priority"`
	Constraints        []string `json:"constraints"`
	RiskFlags          []string `json:"risk_flags"`
}

// StageHistoryEntry records one node's pass through the pipeline, for the
// accumulating stage_history field.
type StageHistoryEntry struct {
	Stage  string `json:"stage"`
	Status string `json:"status"`
}

// BehaviourSpec tracks one repo's Gherkin feature-file translation and its
// latest verification outcome. The spec_writer agent writes .feature files
// directly into the worktree; this record carries only the verification
// metadata the graph's conditional edges need.
type BehaviourSpec struct {
	RepoName              string `json:"repo_name"`
	Verified              bool   `json:"verified"`
	VerificationFeedback  string `json:"verification_feedback"`
	VerificationIteration int    `json:"verification_iteration"`
}

// DevResult is the per-repo output of the TDD node.
type DevResult struct {
	RepoName      string `json:"repo_name"`
	TestOutput    string `json:"test_output"`
	TestsPassing  bool   `json:"tests_passing"`
	DevIteration  int    `json:"dev_iteration"`
}

// Finding is one reviewer observation, tagged by severity.
type Finding struct {
	Severity string `json:"severity"` // critical | major | minor | info
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// ReviewResult is the per-repo, per-reviewer-merged output of the review node.
type ReviewResult struct {
	RepoName string    `json:"repo_name"`
	Findings []Finding `json:"findings"`
	Passed   bool      `json:"passed"`
}

// DeliveryResult is the per-repo output of the delivery node.
type DeliveryResult struct {
	RepoName     string `json:"repo_name"`
	TestsPassing bool   `json:"tests_passing"`
	BranchPushed bool   `json:"branch_pushed"`
	PRURL        string `json:"pr_url,omitempty"`
}

// field merge kind tags, consulted by ApplyUpdate via reflection so call
// sites never hand-merge fields themselves.
const (
	mergeOverwrite  = "overwrite"
	mergeAccumulate = "accumulate"
	mergeControl    = "control"
)

// State is the full, typed Pipeline State record that flows through every
// graph node. Each field is tagged with its merge rule (hadron:"overwrite|
// accumulate|control"); ApplyUpdate consults the tag instead of any ad-hoc
// per-call-site merge logic.
type State struct {
	CRID string `hadron:"control"`

	RawCRTitle string `hadron:"overwrite"`
	RawCRText  string `hadron:"overwrite"`

	StructuredCR     StructuredCR `hadron:"overwrite"`
	AffectedRepos    []RepoRef    `hadron:"overwrite"`
	ConfigSnapshot   ConfigSnapshot `hadron:"control"`

	BehaviourSpecs      []BehaviourSpec `hadron:"overwrite"`
	BehaviourVerified   bool `hadron:"overwrite"`
	VerificationLoopCnt int  `hadron:"overwrite"`
	VerificationFeedback string `hadron:"overwrite"`

	DevResults   []DevResult `hadron:"overwrite"`
	DevLoopCount int         `hadron:"overwrite"`

	ReviewResults   []ReviewResult `hadron:"overwrite"`
	ReviewPassed    bool           `hadron:"overwrite"`
	ReviewLoopCount int            `hadron:"overwrite"`

	RebaseClean     bool     `hadron:"overwrite"`
	RebaseConflicts []string `hadron:"overwrite"`

	DeliveryResults []DeliveryResult `hadron:"overwrite"`
	AllDelivered    bool             `hadron:"overwrite"`

	ReleaseApproved bool `hadron:"overwrite"`
	Released        bool `hadron:"overwrite"`

	CurrentStage string              `hadron:"overwrite"`
	StageHistory []StageHistoryEntry `hadron:"accumulate"`

	CostInputTokens  int     `hadron:"accumulate"`
	CostOutputTokens int     `hadron:"accumulate"`
	CostUSD          float64 `hadron:"accumulate"`

	Status      string `hadron:"control"`
	Error       string `hadron:"control"`
	Intervention string `hadron:"control"`
}

// ConfigSnapshot is the frozen pipeline configuration carried in state,
// consulted by the graph's conditional edges for loop maxima.
type ConfigSnapshot struct {
	MaxVerificationLoops int `json:"max_verification_loops"`
	MaxReviewDevLoops    int `json:"max_review_dev_loops"`
	MaxTDDIterations     int `json:"max_tdd_iterations"`
}

// DefaultConfigSnapshot returns the documented defaults (3, 3, 5).
func DefaultConfigSnapshot() ConfigSnapshot {
	return ConfigSnapshot{
		MaxVerificationLoops: 3,
		MaxReviewDevLoops:    3,
		MaxTDDIterations:     5,
	}
}

// Update is a sparse, partial state record returned by a node. Only fields
// explicitly present in SetFields are integrated by ApplyUpdate; all others
// are left untouched regardless of their zero value.
type Update struct {
	// SetFields lists field names (matching State's Go field names) that
	// this update sets, so ApplyUpdate can distinguish "set to zero value"
	// from "not touched by this node".
	SetFields []string
	State     State
}

// NewUpdate builds an Update with the given fields marked as set. The caller
// populates the returned State's corresponding fields directly.
func NewUpdate(fields ...string) *Update {
	return &Update{SetFields: fields}
}

// ApplyUpdate merges u into dst according to each field's hadron merge tag.
// This is the engine's reducer: overwriting fields take the last writer's
// value, accumulating fields are combined (sum for numeric, append for
// slices), and control fields overwrite like normal overwriting fields.
func ApplyUpdate(dst *State, u *Update) error {
	if u == nil {
		return nil
	}
	set := make(map[string]bool, len(u.SetFields))
	for _, f := range u.SetFields {
		set[f] = true
	}

	dstV := reflect.ValueOf(dst).Elem()
	srcV := reflect.ValueOf(u.State)
	t := dstV.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !set[field.Name] {
			continue
		}
		tag := field.Tag.Get("hadron")
		dstField := dstV.Field(i)
		srcField := srcV.Field(i)

		switch tag {
		case mergeAccumulate:
			if err := accumulate(dstField, srcField); err != nil {
				return fmt.Errorf("accumulate field %s: %w", field.Name, err)
			}
		case mergeOverwrite, mergeControl, "":
			dstField.Set(srcField)
		default:
			return fmt.Errorf("field %s has unknown hadron tag %q", field.Name, tag)
		}
	}
	return nil
}

func accumulate(dst, src reflect.Value) error {
	switch dst.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64:
		dst.SetInt(dst.Int() + src.Int())
	case reflect.Float32, reflect.Float64:
		dst.SetFloat(dst.Float() + src.Float())
	case reflect.Slice:
		dst.Set(reflect.AppendSlice(dst, src))
	default:
		return fmt.Errorf("unsupported accumulate kind %s", dst.Kind())
	}
	return nil
}
