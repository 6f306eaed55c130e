// Package models defines the remote entity types convsync works with.
package models

// Convention is a markdown policy document stored by the remote service.
// Optional metadata fields are nil when the service omitted them or sent null.
type Convention struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Category         string  `json:"category"`
	FileName         string  `json:"fileName,omitempty"`
	Content          string  `json:"content,omitempty"`
	Trigger          *string `json:"trigger,omitempty"`
	Description      *string `json:"description,omitempty"`
	AgentInstruction *string `json:"agentInstruction,omitempty"`
	UpdatedAt        string  `json:"updatedAt,omitempty"`
}

// SharedGuide is a read-only platform guide. Guides carry no identity; the
// whole set is versioned by a single hash.
type SharedGuide struct {
	Title    string `json:"title,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Category string `json:"category,omitempty"`
	Content  string `json:"content,omitempty"`
}

// AgentProfile is a registered agent configuration. Only the linked
// convention matters to the sync engine.
type AgentProfile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ConventionID string `json:"conventionId,omitempty"`
}

// Pagination is the optional paging metadata of a list response.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}
