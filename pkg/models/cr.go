// Package models holds the data types shared across the orchestration engine:
// the persisted CR run row, the agent task and result shapes, and wire-level
// event and tool-call shapes.
package models

import "time"

// CRStatus is the lifecycle status of a CR run, persisted in the RDB.
type CRStatus string

const (
	CRStatusPending   CRStatus = "pending"
	CRStatusRunning   CRStatus = "running"
	CRStatusPaused    CRStatus = "paused"
	CRStatusCompleted CRStatus = "completed"
	CRStatusFailed    CRStatus = "failed"
)

// CRSource identifies where a CR submission originated.
type CRSource string

const (
	CRSourceAPI    CRSource = "api"
	CRSourceJira   CRSource = "jira"
	CRSourceGithub CRSource = "github"
	CRSourceADO    CRSource = "ado"
	CRSourceSlack  CRSource = "slack"
)

// RawCR is the raw submission payload accepted by POST /api/pipeline/trigger.
type RawCR struct {
	Title              string   `json:"title" binding:"required,min=1,max=500"`
	Description        string   `json:"description" binding:"required,min=1"`
	Source             CRSource `json:"source" binding:"required,oneof=api jira github ado slack"`
	ExternalID         string   `json:"external_id,omitempty"`
	ExternalURL        string   `json:"external_url,omitempty"`
	RepoURL            string   `json:"repo_url,omitempty"`
	RepoDefaultBranch  string   `json:"repo_default_branch,omitempty"`
	TestCommand        string   `json:"test_command,omitempty"`
	Language           string   `json:"language,omitempty"`
}

// CRRun is the persisted row tracking one CR's lifecycle end to end.
// Created on intake; mutated only by the Controller (on resume/terminal) and
// the Worker (on status changes); never deleted.
type CRRun struct {
	CRID          string
	Status        CRStatus
	ExternalID    string
	Source        CRSource
	RawPayload    RawCR
	ConfigSnap    map[string]any
	CostUSD       float64
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RunSummary is the projection returned by the list/get HTTP endpoints.
type RunSummary struct {
	CRID       string    `json:"cr_id"`
	Title      string    `json:"title"`
	Status     CRStatus  `json:"status"`
	Source     CRSource  `json:"source"`
	ExternalID string    `json:"external_id,omitempty"`
	CostUSD    float64   `json:"cost_usd"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Summary projects a CRRun into its RunSummary.
func (r CRRun) Summary() RunSummary {
	return RunSummary{
		CRID:       r.CRID,
		Title:      r.RawPayload.Title,
		Status:     r.Status,
		Source:     r.Source,
		ExternalID: r.ExternalID,
		CostUSD:    r.CostUSD,
		Error:      r.LastError,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}
