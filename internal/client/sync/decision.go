package sync

// DecisionAction is the coordinator's response to an event that arrives
// for a path that already has a transfer in progress.
type DecisionAction int

const (
	// ActionIgnore means the in-flight transfer already covers the new
	// event; drop it.
	ActionIgnore DecisionAction = iota
	// ActionCancelAndRequeue cancels the in-flight transfer and puts the
	// new event back on the queue to be picked up fresh.
	ActionCancelAndRequeue
	// ActionMarkConflict lets the in-flight transfer continue but flags
	// the path so the coordinator checks for a version conflict at commit.
	ActionMarkConflict
	// ActionCreateConflictCopy lets the in-flight upload continue but
	// arranges for a conflict copy of the local file once it lands.
	ActionCreateConflictCopy
)

func (a DecisionAction) String() string {
	switch a {
	case ActionIgnore:
		return "IGNORE"
	case ActionCancelAndRequeue:
		return "CANCEL_AND_REQUEUE"
	case ActionMarkConflict:
		return "MARK_CONFLICT"
	case ActionCreateConflictCopy:
		return "CREATE_CONFLICT_COPY"
	default:
		return "UNKNOWN"
	}
}

// decisionRule is one row of the declarative matrix below. newEventType
// nil matches any event type from newEventSource.
type decisionRule struct {
	newEventSource   EventSource
	newEventType     *EventType
	existingTransfer TransferKind
	action           DecisionAction
	reason           string
}

func eventType(t EventType) *EventType { return &t }

// decisionRules is the declarative decision matrix for concurrent events:
// what to do when an event arrives for a path that already has a transfer
// in progress. Rules are checked in order; the first match wins.
//
//	New event        In progress   Action
//	----------------------------------------------------------------
//	LOCAL (any)       DOWNLOAD      cancel download, requeue local
//	REMOTE_MODIFIED   UPLOAD        mark conflict, continue uploading
//	REMOTE_DELETED    UPLOAD        conflict-copy, continue uploading
//	REMOTE (any)      DOWNLOAD      ignore, already downloading latest
//	LOCAL (any)       UPLOAD        ignore, already uploading local
var decisionRules = []decisionRule{
	{
		newEventSource:   SourceLocal,
		newEventType:     nil,
		existingTransfer: Download,
		action:           ActionCancelAndRequeue,
		reason:           "local change takes precedence over incoming remote",
	},
	{
		newEventSource:   SourceRemote,
		newEventType:     eventType(RemoteModified),
		existingTransfer: Upload,
		action:           ActionMarkConflict,
		reason:           "server changed while uploading, may conflict at commit",
	},
	{
		newEventSource:   SourceRemote,
		newEventType:     eventType(RemoteDeleted),
		existingTransfer: Upload,
		action:           ActionCreateConflictCopy,
		reason:           "server deleted, but local changes must be preserved",
	},
	{
		newEventSource:   SourceRemote,
		newEventType:     nil,
		existingTransfer: Download,
		action:           ActionIgnore,
		reason:           "already downloading latest from server",
	},
	{
		newEventSource:   SourceLocal,
		newEventType:     nil,
		existingTransfer: Upload,
		action:           ActionIgnore,
		reason:           "already uploading local changes",
	},
}

func ruleMatches(r decisionRule, source EventSource, eventT EventType, transfer TransferKind) bool {
	if r.newEventSource != source || r.existingTransfer != transfer {
		return false
	}
	return r.newEventType == nil || *r.newEventType == eventT
}

// decide evaluates the decision matrix for a newly arrived event against
// the kind of transfer already in progress for its path, returning the
// action to take and a human-readable reason for logging.
func decide(newEvent SyncEvent, existingTransfer TransferKind) (DecisionAction, string) {
	for _, r := range decisionRules {
		if ruleMatches(r, newEvent.Source, newEvent.Type, existingTransfer) {
			return r.action, r.reason
		}
	}
	return ActionIgnore, "no matching rule, ignoring"
}
