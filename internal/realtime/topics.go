package realtime

import (
	"fmt"
	"strings"

	"jobflow/internal/events"
	"jobflow/internal/models"
	"jobflow/internal/notify"
)

var domainTopics = map[events.Domain]string{
	events.DomainJob:        "job_updates",
	events.DomainPrepress:   "prepress_updates",
	events.DomainInventory:  "inventory_updates",
	events.DomainProduction: "production_updates",
	events.DomainQA:         "qa_updates",
	events.DomainDispatch:   "dispatch_updates",
}

func JobTopic(jobRef string) string { return "job:" + jobRef }

func RoleTopic(role string) string { return "role:" + strings.ToUpper(role) }

func DeptTopic(d models.Department) string { return "dept:" + d.DisplayName() }

func NotifyTopic(userID string) string { return "notify:" + userID }

// DomainTopic returns the broad topic for a domain, or "" for domains that
// have none.
func DomainTopic(d events.Domain) string { return domainTopics[d] }

// ValidTopic reports whether topic follows the topic grammar.
func ValidTopic(topic string) bool {
	for _, t := range domainTopics {
		if topic == t {
			return true
		}
	}
	prefix, rest, ok := strings.Cut(topic, ":")
	if !ok || strings.TrimSpace(rest) == "" {
		return false
	}
	switch prefix {
	case "job", "role", "notify":
		return true
	case "dept":
		for _, d := range models.AllDepartments {
			if rest == d.DisplayName() {
				return true
			}
		}
	}
	return false
}

// Route lists the topics an event is delivered to.
func Route(e events.Event) []string {
	var topics []string
	add := func(t string) {
		for _, existing := range topics {
			if existing == t {
				return
			}
		}
		topics = append(topics, t)
	}

	switch e.Domain {
	case events.DomainNotification:
		for _, r := range notify.Recipients(e.Payload) {
			add(NotifyTopic(r))
		}
		if e.JobRef != "" {
			add(JobTopic(e.JobRef))
		}
		add(RoleTopic("ADMIN"))
		if fmt.Sprint(e.Payload["priority"]) == string(models.NotifyCritical) {
			add(RoleTopic("HOD"))
		}
	case events.DomainAlert:
		if e.JobRef != "" {
			add(JobTopic(e.JobRef))
		}
	default:
		if e.JobRef != "" {
			add(JobTopic(e.JobRef))
		}
		if t := DomainTopic(e.Domain); t != "" {
			add(t)
		}
		dept := department(e.Payload)
		if dept == "" {
			dept = e.Domain.Department()
		}
		if dept != "" {
			add(DeptTopic(dept))
		}
	}
	return topics
}

func department(payload map[string]any) models.Department {
	switch v := payload["department"].(type) {
	case models.Department:
		return v
	case string:
		d, err := models.ParseDepartment(v)
		if err == nil {
			return d
		}
	}
	return ""
}
