package eventlog

// Type names one of the fixed event families an append() call must name.
// Append rejects unknown types before it writes anything.
type Type string

const (
	TypeAgent              Type = "agent"
	TypeMessage            Type = "message"
	TypeReservation        Type = "reservation"
	TypeCell               Type = "cell"
	TypeLabel              Type = "label"
	TypeComment            Type = "comment"
	TypeEpicChild          Type = "epic_child"
	TypeDependency         Type = "dependency"
	TypeCheckpoint         Type = "checkpoint"
	TypeDecomposition      Type = "decomposition"
	TypeOutcome            Type = "outcome"
	TypeFeedback           Type = "feedback"
	TypeValidation         Type = "validation"
	TypeContextCompaction  Type = "context_compaction"
)

// knownTypes backs IsKnown without allocating a set on every call.
var knownTypes = map[Type]bool{
	TypeAgent: true, TypeMessage: true, TypeReservation: true, TypeCell: true,
	TypeLabel: true, TypeComment: true, TypeEpicChild: true,
	TypeDependency: true, TypeCheckpoint: true, TypeDecomposition: true,
	TypeOutcome: true, TypeFeedback: true, TypeValidation: true,
	TypeContextCompaction: true,
}

// IsKnown reports whether t is one of the fixed event families.
func IsKnown(t Type) bool { return knownTypes[t] }

// AgentPayload backs agent_registered and agent_seen events.
type AgentPayload struct {
	Name    string `json:"name" validate:"required"`
	Program string `json:"program,omitempty"`
	Model   string `json:"model,omitempty"`
}

// MessagePayload backs message_sent, message_read, message_acked.
// message_sent carries a non-empty Subject/Body and an empty Kind;
// message_read and message_acked carry only MessageID/FromAgent plus Kind,
// set to "read" or "ack" respectively so a replay can tell which stamp to
// apply without the two collapsing into the same shape.
type MessagePayload struct {
	MessageID   string   `json:"message_id" validate:"required"`
	FromAgent   string   `json:"from_agent" validate:"required"`
	To          []string `json:"to,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Body        string   `json:"body,omitempty"`
	ThreadID    string   `json:"thread_id,omitempty"`
	Importance  string   `json:"importance,omitempty" validate:"omitempty,oneof=low normal high urgent"`
	AckRequired bool     `json:"ack_required,omitempty"`
	Kind        string   `json:"kind,omitempty" validate:"omitempty,oneof=read ack"`
}

// ReservationPayload backs file_reserved, file_released, file_conflict.
// file_reserved sets ReservationID/PathPattern/Exclusive/ExpiresAt;
// file_released sets Agent and ReleasedIDs to the resolved set of rows
// that event actually released, so replay reconstructs exactly what
// happened rather than re-evaluating release criteria against a
// different "now"; file_conflict sets ConflictWith.
type ReservationPayload struct {
	ReservationID string   `json:"reservation_id,omitempty"`
	Agent         string   `json:"agent" validate:"required"`
	PathPattern   string   `json:"path_pattern,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	Exclusive     bool     `json:"exclusive"`
	ExpiresAt     int64    `json:"expires_at,omitempty"`
	ConflictWith  []string `json:"conflict_with,omitempty"`
	ReleasedIDs   []string `json:"released_ids,omitempty"`
}

// CellPayload backs cell_created, cell_updated, cell_status_changed,
// cell_closed, cell_reopened, cell_deleted.
type CellPayload struct {
	CellID       string `json:"cell_id" validate:"required"`
	ProjectKey   string `json:"project_key,omitempty"`
	Type         string `json:"type,omitempty" validate:"omitempty,oneof=bug feature task epic chore message"`
	Status       string `json:"status,omitempty" validate:"omitempty,oneof=open in_progress blocked closed tombstone"`
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	Priority     int    `json:"priority,omitempty" validate:"omitempty,min=0,max=3"`
	ParentID     string `json:"parent_id,omitempty"`
	Assignee     string `json:"assignee,omitempty"`
	ClosedReason string `json:"closed_reason,omitempty"`
}

// LabelPayload backs cell_label_added/removed, discriminated by Removed.
type LabelPayload struct {
	CellID  string `json:"cell_id" validate:"required"`
	Label   string `json:"label" validate:"required"`
	Removed bool   `json:"removed,omitempty"`
}

// CommentPayload backs cell_comment_added/updated/deleted. Action is the
// explicit discriminant: added/updated/deleted never share a payload shape
// that could be misread as one of the others on replay.
type CommentPayload struct {
	CommentID string `json:"comment_id" validate:"required"`
	CellID    string `json:"cell_id,omitempty"`
	Author    string `json:"author,omitempty"`
	Body      string `json:"body,omitempty"`
	Action    string `json:"action" validate:"required,oneof=added updated deleted"`
}

// EpicChildPayload backs cell_epic_child_added/removed: EpicID's parent_id
// link to ChildID is set when Removed is false, cleared when true.
type EpicChildPayload struct {
	EpicID  string `json:"epic_id" validate:"required"`
	ChildID string `json:"child_id" validate:"required"`
	Removed bool   `json:"removed,omitempty"`
}

// DependencyPayload backs cell_dependency_added/removed.
type DependencyPayload struct {
	FromCell     string `json:"from_cell" validate:"required"`
	ToCell       string `json:"to_cell" validate:"required"`
	Relationship string `json:"relationship" validate:"required,oneof=blocks related duplicates parent"`
}

// CheckpointPayload backs cursor advances.
type CheckpointPayload struct {
	Stream     string `json:"stream" validate:"required"`
	Checkpoint string `json:"checkpoint" validate:"required"`
	Position   int64  `json:"position"`
}

// DecompositionPayload backs epic-decomposition outcome events.
type DecompositionPayload struct {
	EpicID   string   `json:"epic_id" validate:"required"`
	Children []string `json:"children,omitempty"`
}

// OutcomePayload backs generic operation-outcome events.
type OutcomePayload struct {
	CellID  string `json:"cell_id,omitempty"`
	Outcome string `json:"outcome" validate:"required"`
	Detail  string `json:"detail,omitempty"`
}

// FeedbackPayload backs agent-recorded feedback events.
type FeedbackPayload struct {
	Agent   string `json:"agent" validate:"required"`
	Subject string `json:"subject,omitempty"`
	Rating  int    `json:"rating,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// ValidationPayload backs payload-rejected diagnostic events.
type ValidationPayload struct {
	RejectedType string `json:"rejected_type" validate:"required"`
	Reason       string `json:"reason" validate:"required"`
}

// ContextCompactionPayload backs context-window compaction events.
type ContextCompactionPayload struct {
	Agent        string `json:"agent" validate:"required"`
	TokensBefore int    `json:"tokens_before,omitempty"`
	TokensAfter  int    `json:"tokens_after,omitempty"`
}
