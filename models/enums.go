package models

import "fmt"

type RequestKind string

const (
	RequestKindOrder       RequestKind = "ORDER"
	RequestKindRequisition RequestKind = "REQUISITION"
)

func (k RequestKind) IsValid() bool {
	return k == RequestKindOrder || k == RequestKindRequisition
}

// FolioPrefix is the document prefix used when numbering drafts of this kind.
func (k RequestKind) FolioPrefix() string {
	if k == RequestKindOrder {
		return "OC"
	}
	return "RQ"
}

type RequestStatus string

const (
	RequestStatusDraft                   RequestStatus = "draft"
	RequestStatusPendingBudgetValidation RequestStatus = "pending_budget_validation"
	RequestStatusBudgetValidated         RequestStatus = "budget_validated"
	RequestStatusPendingWarehouse        RequestStatus = "pending_warehouse"
	RequestStatusPartiallyReceived       RequestStatus = "partially_received"
	RequestStatusCompleted               RequestStatus = "completed"
	RequestStatusSent                    RequestStatus = "sent"
	RequestStatusApproved                RequestStatus = "approved"
	RequestStatusDeleted                 RequestStatus = "deleted"
)

// requestTransitions is the only place where legal lifecycle edges are declared.
// A status with no outgoing edges is terminal.
var requestTransitions = map[RequestKind]map[RequestStatus][]RequestStatus{
	RequestKindOrder: {
		RequestStatusDraft:                   {RequestStatusPendingBudgetValidation, RequestStatusDeleted},
		RequestStatusPendingBudgetValidation: {RequestStatusBudgetValidated, RequestStatusDeleted},
		RequestStatusBudgetValidated:         {RequestStatusPendingWarehouse, RequestStatusDeleted},
		RequestStatusPendingWarehouse:        {RequestStatusCompleted, RequestStatusPartiallyReceived, RequestStatusDeleted},
		RequestStatusCompleted:               {},
		RequestStatusPartiallyReceived:       {},
		RequestStatusDeleted:                 {},
	},
	RequestKindRequisition: {
		RequestStatusDraft:    {RequestStatusSent, RequestStatusDeleted},
		RequestStatusSent:     {RequestStatusApproved, RequestStatusDeleted},
		RequestStatusApproved: {},
		RequestStatusDeleted:  {},
	},
}

// allocationEdges fix approved quantities and produce the warehouse exit.
var allocationEdges = map[RequestKind]map[RequestStatus]RequestStatus{
	RequestKindOrder: {
		RequestStatusCompleted:         RequestStatusPendingWarehouse,
		RequestStatusPartiallyReceived: RequestStatusPendingWarehouse,
	},
	RequestKindRequisition: {
		RequestStatusApproved: RequestStatusSent,
	},
}

func InitialStatus(kind RequestKind) RequestStatus {
	return RequestStatusDraft
}

// IsKnownStatus reports whether status belongs to the state graph of kind.
func IsKnownStatus(kind RequestKind, status RequestStatus) bool {
	_, ok := requestTransitions[kind][status]
	return ok
}

func CanTransition(kind RequestKind, from, to RequestStatus) bool {
	for _, next := range requestTransitions[kind][from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsAllocationTarget reports whether entering target from any state runs the allocator.
func IsAllocationTarget(kind RequestKind, target RequestStatus) bool {
	_, ok := allocationEdges[kind][target]
	return ok
}

func IsAllocationEdge(kind RequestKind, from, to RequestStatus) bool {
	src, ok := allocationEdges[kind][to]
	return ok && src == from
}

func IsTerminal(kind RequestKind, status RequestStatus) bool {
	next, ok := requestTransitions[kind][status]
	return ok && len(next) == 0
}

// NextStatuses returns a copy of the legal targets from status.
func NextStatuses(kind RequestKind, status RequestStatus) []RequestStatus {
	next := requestTransitions[kind][status]
	out := make([]RequestStatus, len(next))
	copy(out, next)
	return out
}

func ParseRequestStatus(kind RequestKind, raw string) (RequestStatus, error) {
	s := RequestStatus(raw)
	if !IsKnownStatus(kind, s) {
		return "", fmt.Errorf("invalid %s status %q", kind, raw)
	}
	return s, nil
}

type ExitStatus string

const (
	ExitStatusIssued ExitStatus = "ISSUED"
)

type HistoryAction string

const (
	HistoryActionCreate     HistoryAction = "CREATE"
	HistoryActionTransition HistoryAction = "TRANSITION"
	HistoryActionAllocate   HistoryAction = "ALLOCATE"
	HistoryActionCancel     HistoryAction = "CANCEL"
	HistoryActionReceipt    HistoryAction = "RECEIPT"
)

// Notification event types carried by NotificationOutbox.EventType.
const (
	NotificationEventDraftCreated  = "REQUEST_DRAFT_CREATED"
	NotificationEventStatusChanged = "REQUEST_STATUS_CHANGED"
	NotificationEventExitIssued    = "EXIT_ISSUED"
	NotificationEventCancelled     = "REQUEST_CANCELLED"
)

// Reconciliation check types.
const (
	CheckTypeLedgerStockMismatch = "LEDGER_STOCK_MISMATCH"
	CheckTypeStockConservation   = "STOCK_CONSERVATION"
	CheckTypeLotOverConsumed     = "LOT_OVER_CONSUMED"
)
