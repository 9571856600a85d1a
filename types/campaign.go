package types

import (
	"fmt"
	"time"
)

// CampaignStatus is the state of a bulk messaging campaign.
type CampaignStatus string

const (
	CampaignSending        CampaignStatus = "sending"
	CampaignCompleted      CampaignStatus = "completed"
	CampaignPartialFailure CampaignStatus = "partial_failure"
	CampaignFailed         CampaignStatus = "failed"
)

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignSending, CampaignCompleted, CampaignPartialFailure, CampaignFailed:
		return true
	}
	return false
}

// Terminal reports whether the send worker has nothing left to do.
// A retry can still move a terminal campaign back to sending.
func (s CampaignStatus) Terminal() bool {
	return s.Valid() && s != CampaignSending
}

// DeliveryStatus tracks one recipient within a campaign.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Campaign is the summary view of a bulk send.
type Campaign struct {
	ID              int64          `json:"id" meddler:"id,pk"`
	MessageTemplate string         `json:"message_template" meddler:"message_template"`
	CourseName      string         `json:"course_name" meddler:"course_name,zeroisnull"`
	TotalRecipients int            `json:"total_recipients" meddler:"total_recipients"`
	SentCount       int            `json:"sent_count" meddler:"sent_count"`
	FailedCount     int            `json:"failed_count" meddler:"failed_count"`
	Status          CampaignStatus `json:"status" meddler:"status"`
	CreatedAt       time.Time      `json:"created_at" meddler:"created_at,localtime"`
	CompletedAt     *time.Time     `json:"completed_at" meddler:"completed_at"`
}

// Progress is the share of recipients already resolved, in percent.
func (c *Campaign) Progress() int {
	if c.TotalRecipients <= 0 {
		return 0
	}
	return (c.SentCount + c.FailedCount) * 100 / c.TotalRecipients
}

// Retryable reports whether failed recipients can be re-admitted.
func (c *Campaign) Retryable() bool {
	return (c.Status == CampaignPartialFailure || c.Status == CampaignFailed) && c.FailedCount > 0
}

// RecipientStatus is one addressee of a campaign.
type RecipientStatus struct {
	ID              int64          `json:"-" meddler:"id,pk"`
	CampaignID      int64          `json:"-" meddler:"campaign_id"`
	UserID          int64          `json:"user_id" meddler:"user_id"`
	Name            string         `json:"name" meddler:"name,zeroisnull"`
	Phone           string         `json:"phone" meddler:"phone"`
	Status          DeliveryStatus `json:"status" meddler:"status"`
	ResolvedMessage string         `json:"resolved_message" meddler:"resolved_message,zeroisnull"`
	SentAt          *time.Time     `json:"sent_at" meddler:"sent_at"`
	ErrorMessage    string         `json:"error_message" meddler:"error_message,zeroisnull"`
}

// CampaignDetail is the campaign plus every recipient's delivery status.
type CampaignDetail struct {
	Campaign
	Recipients []*RecipientStatus `json:"recipients"`
}

// CheckCampaign verifies the counters of a campaign snapshot:
// sent + failed never exceeds the total, and the campaign is sending exactly
// while some recipients are unresolved. When recipients are supplied, their
// statuses must agree with the counters.
func CheckCampaign(c *Campaign, recipients []*RecipientStatus) error {
	if !c.Status.Valid() {
		return fmt.Errorf("campaign %d: unknown status %q", c.ID, c.Status)
	}
	if c.SentCount < 0 || c.FailedCount < 0 {
		return fmt.Errorf("campaign %d: negative counters sent=%d failed=%d", c.ID, c.SentCount, c.FailedCount)
	}
	resolved := c.SentCount + c.FailedCount
	if resolved > c.TotalRecipients {
		return fmt.Errorf("campaign %d: sent=%d + failed=%d exceeds total=%d",
			c.ID, c.SentCount, c.FailedCount, c.TotalRecipients)
	}
	if sending := c.Status == CampaignSending; sending != (resolved < c.TotalRecipients) {
		return fmt.Errorf("campaign %d: status %s with %d of %d recipients resolved",
			c.ID, c.Status, resolved, c.TotalRecipients)
	}
	if recipients == nil {
		return nil
	}

	pending := 0
	for _, r := range recipients {
		if r.Status == DeliveryPending {
			pending++
		}
	}
	if (pending > 0) != (c.Status == CampaignSending) {
		return fmt.Errorf("campaign %d: status %s with %d pending recipients", c.ID, c.Status, pending)
	}
	return nil
}

type Course struct {
	ID   int64  `json:"id" meddler:"id,pk"`
	Name string `json:"name" meddler:"name"`
}

// Recipient is a candidate addressee listed for a course.
type Recipient struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	WhatsappNumber string `json:"whatsapp_number"`
	HasWhatsapp    bool   `json:"has_whatsapp"`
}

type SkippedUser struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// BulkSendRequest starts a campaign.
type BulkSendRequest struct {
	UserIDs         []int64 `json:"user_ids" binding:"required" validate:"required,min=1,dive,gt=0"`
	MessageTemplate string  `json:"message_template" binding:"required" validate:"required,msgtemplate"`
	CourseID        *int64  `json:"course_id,omitempty" validate:"omitempty,gt=0"`
}

type BulkSendResponse struct {
	CampaignID      int64          `json:"campaign_id"`
	TaskID          string         `json:"task_id"`
	TotalRecipients int            `json:"total_recipients"`
	SkippedNoPhone  int            `json:"skipped_no_phone"`
	SkippedUsers    []*SkippedUser `json:"skipped_users"`
}

type RetryResponse struct {
	Retrying   int   `json:"retrying"`
	CampaignID int64 `json:"campaign_id"`
}
