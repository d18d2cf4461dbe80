package models

import (
	"fmt"
	"strings"
)

// OverallStatus enumerates the top-level lifecycle states of a job.
type OverallStatus string

const (
	StatusCreated                OverallStatus = "CREATED"
	StatusAssignedToPrepress     OverallStatus = "ASSIGNED_TO_PREPRESS"
	StatusPrepressInProgress     OverallStatus = "PREPRESS_IN_PROGRESS"
	StatusPrepressCompleted      OverallStatus = "PREPRESS_COMPLETED"
	StatusAssignedToInventory    OverallStatus = "ASSIGNED_TO_INVENTORY"
	StatusInventoryInProgress    OverallStatus = "INVENTORY_IN_PROGRESS"
	StatusInventoryCompleted     OverallStatus = "INVENTORY_COMPLETED"
	StatusAssignedToProduction   OverallStatus = "ASSIGNED_TO_PRODUCTION"
	StatusProductionInProgress   OverallStatus = "PRODUCTION_IN_PROGRESS"
	StatusProductionCompleted    OverallStatus = "PRODUCTION_COMPLETED"
	StatusAssignedToQA           OverallStatus = "ASSIGNED_TO_QA"
	StatusQAInProgress           OverallStatus = "QA_IN_PROGRESS"
	StatusQACompleted            OverallStatus = "QA_COMPLETED"
	StatusAssignedToDispatch     OverallStatus = "ASSIGNED_TO_DISPATCH"
	StatusDispatchInProgress     OverallStatus = "DISPATCH_IN_PROGRESS"
	StatusDispatchCompleted      OverallStatus = "DISPATCH_COMPLETED"
	StatusCompleted              OverallStatus = "COMPLETED"
	StatusOnHold                 OverallStatus = "ON_HOLD"
	StatusCancelled              OverallStatus = "CANCELLED"
)

// AllOverallStatuses lists every OverallStatus in stage order, followed by hold and cancel.
var AllOverallStatuses = []OverallStatus{
	StatusCreated,
	StatusAssignedToPrepress, StatusPrepressInProgress, StatusPrepressCompleted,
	StatusAssignedToInventory, StatusInventoryInProgress, StatusInventoryCompleted,
	StatusAssignedToProduction, StatusProductionInProgress, StatusProductionCompleted,
	StatusAssignedToQA, StatusQAInProgress, StatusQACompleted,
	StatusAssignedToDispatch, StatusDispatchInProgress, StatusDispatchCompleted,
	StatusCompleted,
	StatusOnHold,
	StatusCancelled,
}

var overallRank = func() map[OverallStatus]int {
	m := make(map[OverallStatus]int, len(AllOverallStatuses))
	for i, s := range AllOverallStatuses[:17] {
		m[s] = i
	}
	return m
}()

// Valid reports whether s is one of the defined lifecycle states.
func (s OverallStatus) Valid() bool {
	if _, ok := overallRank[s]; ok {
		return true
	}
	return s == StatusOnHold || s == StatusCancelled
}

// Terminal reports whether no further transitions are permitted.
func (s OverallStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Rank returns the position of s along the linear stage sequence. ON_HOLD and
// CANCELLED are off the sequence and report ok=false.
func (s OverallStatus) Rank() (int, bool) {
	r, ok := overallRank[s]
	return r, ok
}

// Department returns the department a status belongs to, or "" for CREATED,
// COMPLETED, ON_HOLD and CANCELLED.
func (s OverallStatus) Department() Department {
	str := string(s)
	for _, d := range AllDepartments {
		prefix := strings.ToUpper(string(d))
		if strings.HasPrefix(str, prefix+"_") || strings.HasSuffix(str, "_TO_"+prefix) {
			return d
		}
	}
	return ""
}

// ParseOverallStatus validates a caller-supplied status string.
func ParseOverallStatus(v string) (OverallStatus, error) {
	s := OverallStatus(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", Validation("parse_status", fmt.Sprintf("unknown lifecycle status %q", v))
	}
	return s, nil
}

// Department names one of the fixed workflow departments.
type Department string

const (
	DeptPrepress   Department = "prepress"
	DeptInventory  Department = "inventory"
	DeptProduction Department = "production"
	DeptQA         Department = "qa"
	DeptDispatch   Department = "dispatch"
)

// AllDepartments is the fixed department order a job moves through.
var AllDepartments = []Department{DeptPrepress, DeptInventory, DeptProduction, DeptQA, DeptDispatch}

// DisplayName is the human-facing department label used for department topics.
func (d Department) DisplayName() string {
	switch d {
	case DeptQA:
		return "QA"
	case "":
		return ""
	default:
		return strings.ToUpper(string(d[:1])) + string(d[1:])
	}
}

// ParseDepartment accepts either the canonical or display form.
func ParseDepartment(v string) (Department, error) {
	d := Department(strings.ToLower(strings.TrimSpace(v)))
	for _, known := range AllDepartments {
		if d == known {
			return d, nil
		}
	}
	return "", Validation("parse_department", fmt.Sprintf("unknown department %q", v))
}

// Statuses returns the overall statuses that belong to the department bucket.
func (d Department) Statuses() []OverallStatus {
	var out []OverallStatus
	for _, s := range AllOverallStatuses {
		if s.Department() == d {
			out = append(out, s)
		}
	}
	return out
}

// JobPriority ranks urgency of a job.
type JobPriority string

const (
	PriorityLow    JobPriority = "LOW"
	PriorityNormal JobPriority = "NORMAL"
	PriorityHigh   JobPriority = "HIGH"
	PriorityUrgent JobPriority = "URGENT"
)

// ParseJobPriority defaults an empty value to NORMAL.
func ParseJobPriority(v string) (JobPriority, error) {
	p := JobPriority(strings.ToUpper(strings.TrimSpace(v)))
	switch p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, nil
	}
	return "", Validation("parse_priority", fmt.Sprintf("unknown priority %q", v))
}

// NotificationPriority is the severity attached to a notification.
type NotificationPriority string

const (
	NotifyLow      NotificationPriority = "LOW"
	NotifyMedium   NotificationPriority = "MEDIUM"
	NotifyHigh     NotificationPriority = "HIGH"
	NotifyCritical NotificationPriority = "CRITICAL"
)

// ProductionStatus tracks the production department's sub-status.
type ProductionStatus string

const (
	ProductionPending    ProductionStatus = "PENDING"
	ProductionInProgress ProductionStatus = "IN_PROGRESS"
	ProductionPaused     ProductionStatus = "PAUSED"
	ProductionDelayed    ProductionStatus = "DELAYED"
	ProductionCompleted  ProductionStatus = "COMPLETED"
)

// QAStatus tracks the quality assurance sub-status.
type QAStatus string

const (
	QAPending    QAStatus = "PENDING"
	QAInProgress QAStatus = "IN_PROGRESS"
	QAFailed     QAStatus = "FAILED"
	QARework     QAStatus = "REWORK"
	QADelayed    QAStatus = "DELAYED"
	QACompleted  QAStatus = "COMPLETED"
)

// DispatchStatus tracks the dispatch sub-status. Only COMPLETED closes the job;
// DISPATCHED means the goods left but delivery is not yet confirmed.
type DispatchStatus string

const (
	DispatchPending    DispatchStatus = "PENDING"
	DispatchPacked     DispatchStatus = "PACKED"
	DispatchReady      DispatchStatus = "READY_FOR_DISPATCH"
	DispatchDispatched DispatchStatus = "DISPATCHED"
	DispatchDelayed    DispatchStatus = "DELAYED"
	DispatchCompleted  DispatchStatus = "COMPLETED"
)

var (
	productionStatuses = []ProductionStatus{ProductionPending, ProductionInProgress, ProductionPaused, ProductionDelayed, ProductionCompleted}
	qaStatuses         = []QAStatus{QAPending, QAInProgress, QAFailed, QARework, QADelayed, QACompleted}
	dispatchStatuses   = []DispatchStatus{DispatchPending, DispatchPacked, DispatchReady, DispatchDispatched, DispatchDelayed, DispatchCompleted}
)

func ParseProductionStatus(v string) (ProductionStatus, error) {
	return parseEnum("production status", v, productionStatuses)
}

func ParseQAStatus(v string) (QAStatus, error) {
	return parseEnum("qa status", v, qaStatuses)
}

func ParseDispatchStatus(v string) (DispatchStatus, error) {
	return parseEnum("dispatch status", v, dispatchStatuses)
}

func parseEnum[T ~string](what, v string, allowed []T) (T, error) {
	s := T(strings.ToUpper(strings.TrimSpace(v)))
	for _, a := range allowed {
		if a == s {
			return s, nil
		}
	}
	var zero T
	return zero, Validation("parse_"+strings.ReplaceAll(what, " ", "_"), fmt.Sprintf("unknown %s %q", what, v))
}
