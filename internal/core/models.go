package core

import (
	"time"
)

type User struct {
	ID                       int64     `json:"id"`
	Email                    string    `json:"email"`
	IsActive                 bool      `json:"is_active"`
	IsManager                bool      `json:"is_manager"`
	SuccessfulMailingCount   int       `json:"successful_mailing_count"`
	UnsuccessfulMailingCount int       `json:"unsuccessful_mailing_count"`
	MessagesCount            int       `json:"messages_count"`
	CreatedAt                time.Time `json:"created_at"`
}

type Recipient struct {
	ID       int64   `json:"id"`
	Email    string  `json:"email"`
	FullName string  `json:"full_name"`
	Comment  *string `json:"comment,omitempty"`
	OwnerID  *int64  `json:"owner_id,omitempty"`
}

// Message is a mail template referenced by campaigns.
type Message struct {
	ID      int64  `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	OwnerID *int64 `json:"owner_id,omitempty"`
}

type Campaign struct {
	ID           int64     `json:"id"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Status       Status    `json:"status"`
	OwnerID      *int64    `json:"owner_id,omitempty"`
	MessageID    int64     `json:"message_id"`
	RecipientIDs []int64   `json:"recipient_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
)

// DeliveryAttempt is append-only; rows disappear only with their campaign.
type DeliveryAttempt struct {
	ID             int64         `json:"id"`
	CampaignID     int64         `json:"campaign_id"`
	RecipientID    *int64        `json:"recipient_id,omitempty"`
	RecipientEmail string        `json:"recipient_email"`
	AttemptedAt    time.Time     `json:"attempted_at"`
	Status         AttemptStatus `json:"status"`
	ServerResponse string        `json:"server_response"`
}

type CampaignInput struct {
	StartTime    time.Time
	EndTime      time.Time
	MessageID    int64
	RecipientIDs []int64
}

type RecipientInput struct {
	Email    string
	FullName string
	Comment  *string
}

type MessageInput struct {
	Subject string
	Body    string
}

type HomeStats struct {
	CampaignCount            int `json:"campaign_count"`
	ActiveCampaignCount      int `json:"active_campaign_count"`
	RecipientsCount          int `json:"recipients_count"`
	SuccessfulMailingCount   int `json:"successful_mailing_count"`
	UnsuccessfulMailingCount int `json:"unsuccessful_mailing_count"`
	MessagesCount            int `json:"messages_count"`
}

// UserSummary is a row of the manager's user list.
type UserSummary struct {
	User
	CampaignCount       int `json:"campaign_count"`
	ActiveCampaignCount int `json:"active_campaign_count"`
}

type UserStats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Blocked int `json:"blocked"`
}
