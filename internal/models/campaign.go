package models

import "time"

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusActive    CampaignStatus = "active"
	StatusPaused    CampaignStatus = "paused"
	StatusCompleted CampaignStatus = "completed"
	StatusArchived  CampaignStatus = "archived"
)

// Channel is the delivery channel of a campaign step.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// ValidChannel reports whether ch is one of the supported channels.
func ValidChannel(ch Channel) bool {
	switch ch {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp:
		return true
	}
	return false
}

// Campaign is a named sequence of timed outbound steps plus a set of
// targeted segments.
type Campaign struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Description        string         `json:"description"`
	Status             CampaignStatus `json:"status"`
	ActualAudienceSize int            `json:"actual_audience_size"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`

	Steps     []CampaignStep     `json:"steps,omitempty"`
	Audiences []CampaignAudience `json:"audiences,omitempty"`
}

// CampaignStep is one timed, channel-specific message within a campaign.
// Step numbers are 1-based and contiguous; deleting a step renumbers the
// remainder. Subject only applies to the email channel.
type CampaignStep struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	StepNumber int       `json:"step_number"`
	Channel    Channel   `json:"channel"`
	DelayDays  int       `json:"delay_days"`
	DelayHours int       `json:"delay_hours"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	CTA        string    `json:"cta"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CampaignAudience attaches a segment to a campaign. The size snapshot is
// captured at attach time and is not refreshed when the segment is
// recalculated later.
type CampaignAudience struct {
	ID                    string    `json:"id"`
	CampaignID            string    `json:"campaign_id"`
	SegmentID             string    `json:"segment_id"`
	SegmentName           string    `json:"segment_name,omitempty"` // joined field
	EstimatedSizeSnapshot int       `json:"estimated_size_snapshot"`
	AttachedAt            time.Time `json:"attached_at"`
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	Status CampaignStatus
	Search string
	Limit  int
	Offset int
}
