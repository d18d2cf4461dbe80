package models

import (
	"fmt"
	"strings"
)

// PrepressStatus covers both the per-category tracks and the overall prepress status.
type PrepressStatus string

const (
	PrepressPending            PrepressStatus = "PENDING"
	PrepressAssigned           PrepressStatus = "ASSIGNED"
	PrepressInProgress         PrepressStatus = "IN_PROGRESS"
	PrepressDesignStarted      PrepressStatus = "DESIGN_STARTED"
	PrepressDesignInProgress   PrepressStatus = "DESIGN_IN_PROGRESS"
	PrepressDesignCompleted    PrepressStatus = "DESIGN_COMPLETED"
	PrepressDiePlateStarted    PrepressStatus = "DIE_PLATE_STARTED"
	PrepressDiePlateInProgress PrepressStatus = "DIE_PLATE_IN_PROGRESS"
	PrepressDiePlateCompleted  PrepressStatus = "DIE_PLATE_COMPLETED"
	PrepressOtherStarted       PrepressStatus = "OTHER_STARTED"
	PrepressOtherInProgress    PrepressStatus = "OTHER_IN_PROGRESS"
	PrepressOtherCompleted     PrepressStatus = "OTHER_COMPLETED"
	PrepressHODReview          PrepressStatus = "HOD_REVIEW"
	PrepressCompleted          PrepressStatus = "COMPLETED"
	PrepressRejected           PrepressStatus = "REJECTED"
)

var prepressStatuses = []PrepressStatus{
	PrepressPending, PrepressAssigned, PrepressInProgress,
	PrepressDesignStarted, PrepressDesignInProgress, PrepressDesignCompleted,
	PrepressDiePlateStarted, PrepressDiePlateInProgress, PrepressDiePlateCompleted,
	PrepressOtherStarted, PrepressOtherInProgress, PrepressOtherCompleted,
	PrepressHODReview, PrepressCompleted, PrepressRejected,
}

func ParsePrepressStatus(v string) (PrepressStatus, error) {
	return parseEnum("prepress status", v, prepressStatuses)
}

// PrepressCategory is one of the three independent prepress tracks.
type PrepressCategory string

const (
	CategoryDesign   PrepressCategory = "DESIGN"
	CategoryDiePlate PrepressCategory = "DIE_PLATE"
	CategoryOther    PrepressCategory = "OTHER"
)

// categoryStatuses is the fixed allowed-value set per category. Membership is
// the only rule; order inside a track is not enforced.
var categoryStatuses = map[PrepressCategory][]PrepressStatus{
	CategoryDesign:   {PrepressPending, PrepressDesignStarted, PrepressDesignInProgress, PrepressDesignCompleted},
	CategoryDiePlate: {PrepressPending, PrepressDiePlateStarted, PrepressDiePlateInProgress, PrepressDiePlateCompleted},
	CategoryOther:    {PrepressPending, PrepressOtherStarted, PrepressOtherInProgress, PrepressOtherCompleted},
}

func ParsePrepressCategory(v string) (PrepressCategory, error) {
	c := PrepressCategory(strings.ToUpper(strings.TrimSpace(v)))
	if _, ok := categoryStatuses[c]; !ok {
		return "", Validation("parse_category", fmt.Sprintf("unknown prepress category %q", v))
	}
	return c, nil
}

// Allows reports whether status belongs to the category's track.
func (c PrepressCategory) Allows(status PrepressStatus) bool {
	for _, s := range categoryStatuses[c] {
		if s == status {
			return true
		}
	}
	return false
}

// CompletedStatus is the terminal value of the category's track.
func (c PrepressCategory) CompletedStatus() PrepressStatus {
	allowed := categoryStatuses[c]
	if len(allowed) == 0 {
		return ""
	}
	return allowed[len(allowed)-1]
}

// MaterialRequestStatus is the lifecycle of a single material request.
type MaterialRequestStatus string

const (
	MaterialPending              MaterialRequestStatus = "PENDING"
	MaterialRequestCreated       MaterialRequestStatus = "MATERIAL_REQUEST_CREATED"
	MaterialRequestApproved      MaterialRequestStatus = "MATERIAL_REQUEST_APPROVED"
	MaterialIssuanceStarted      MaterialRequestStatus = "MATERIAL_ISSUANCE_STARTED"
	MaterialIssuanceCompleted    MaterialRequestStatus = "MATERIAL_ISSUANCE_COMPLETED"
	MaterialProcurementStarted   MaterialRequestStatus = "MATERIAL_PROCUREMENT_STARTED"
	MaterialProcurementCompleted MaterialRequestStatus = "MATERIAL_PROCUREMENT_COMPLETED"
)

// materialTransitions lists, for every request status, the statuses it may move to.
var materialTransitions = map[MaterialRequestStatus][]MaterialRequestStatus{
	MaterialPending:              {MaterialRequestCreated},
	MaterialRequestCreated:       {MaterialRequestApproved},
	MaterialRequestApproved:      {MaterialIssuanceStarted, MaterialIssuanceCompleted, MaterialProcurementStarted},
	MaterialIssuanceStarted:      {MaterialIssuanceStarted, MaterialIssuanceCompleted},
	MaterialIssuanceCompleted:    {},
	MaterialProcurementStarted:   {MaterialProcurementCompleted},
	MaterialProcurementCompleted: {MaterialIssuanceStarted, MaterialIssuanceCompleted},
}

// CanTransition reports whether a request may move from s to next.
func (s MaterialRequestStatus) CanTransition(next MaterialRequestStatus) bool {
	for _, t := range materialTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// progress orders request statuses for aggregate views; issuance and
// procurement branches share ranks by how close they are to issued stock.
func (s MaterialRequestStatus) progress() int {
	switch s {
	case MaterialPending:
		return 0
	case MaterialRequestCreated:
		return 1
	case MaterialRequestApproved:
		return 2
	case MaterialProcurementStarted:
		return 3
	case MaterialProcurementCompleted:
		return 4
	case MaterialIssuanceStarted:
		return 5
	case MaterialIssuanceCompleted:
		return 6
	}
	return -1
}

// LeastProgressed returns the status furthest from completion, or "" when empty.
func LeastProgressed(statuses []MaterialRequestStatus) MaterialRequestStatus {
	var out MaterialRequestStatus
	for _, s := range statuses {
		if out == "" || s.progress() < out.progress() {
			out = s
		}
	}
	return out
}

// InventoryStatus is the job-level inventory status. Request transitions write
// their own value into it, so it mirrors every MaterialRequestStatus.
type InventoryStatus string

const (
	InventoryPending    InventoryStatus = "PENDING"
	InventoryAssigned   InventoryStatus = "ASSIGNED"
	InventoryInProgress InventoryStatus = "IN_PROGRESS"
	InventoryDelayed    InventoryStatus = "DELAYED"
	InventoryCompleted  InventoryStatus = "COMPLETED"
)

var inventoryStatuses = []InventoryStatus{
	InventoryPending, InventoryAssigned, InventoryInProgress,
	InventoryStatus(MaterialRequestCreated), InventoryStatus(MaterialRequestApproved),
	InventoryStatus(MaterialIssuanceStarted), InventoryStatus(MaterialIssuanceCompleted),
	InventoryStatus(MaterialProcurementStarted), InventoryStatus(MaterialProcurementCompleted),
	InventoryDelayed, InventoryCompleted,
}

func ParseInventoryStatus(v string) (InventoryStatus, error) {
	return parseEnum("inventory status", v, inventoryStatuses)
}
