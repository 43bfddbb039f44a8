package model

import "time"

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

type TeamMember struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	AccountID      string    `json:"account_id"`
	Role           string    `json:"role"`
	InvitedBy      *string   `json:"invited_by,omitempty"`
	JoinedAt       time.Time `json:"joined_at"`

	// Populated by member listings.
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}
