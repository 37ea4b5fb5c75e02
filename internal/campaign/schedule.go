package campaign

import (
	"time"

	"github.com/foxzi/segmentry/internal/models"
)

// StepFireTime is the computed fire time of one step for one enrollment.
type StepFireTime struct {
	StepID     string         `json:"step_id"`
	StepNumber int            `json:"step_number"`
	Channel    models.Channel `json:"channel"`
	FireAt     time.Time      `json:"fire_at"`
}

// FireTime computes when a step fires for a recipient enrolled at
// enrollment. Every step is an independent offset from the enrollment time;
// delays are never chained from the previous step.
func FireTime(step models.CampaignStep, enrollment time.Time) time.Time {
	offset := time.Duration(step.DelayDays)*24*time.Hour + time.Duration(step.DelayHours)*time.Hour
	return enrollment.Add(offset)
}

// BuildSchedule computes fire times for an ordered step list. It is a pure
// function; dispatching the messages is someone else's job.
func BuildSchedule(steps []models.CampaignStep, enrollment time.Time) []StepFireTime {
	schedule := make([]StepFireTime, 0, len(steps))
	for _, step := range steps {
		schedule = append(schedule, StepFireTime{
			StepID:     step.ID,
			StepNumber: step.StepNumber,
			Channel:    step.Channel,
			FireAt:     FireTime(step, enrollment),
		})
	}
	return schedule
}
