package bus

// Chat event topics.
const (
	TopicChatMessage = "chat.message"
)

// Task board event topics.
const (
	TopicTaskCreated    = "task.created"
	TopicTaskClaimed    = "task.claimed"
	TopicTaskCompleted  = "task.completed"
	TopicTaskReassigned = "task.reassigned"
	TopicTaskRemoved    = "task.removed"
)

// Work loop event topics.
const (
	TopicWorkLoopStarted  = "workloop.started"
	TopicWorkLoopRound    = "workloop.round"
	TopicWorkLoopFinished = "workloop.finished"
)

// Team collaboration event topics.
const (
	TopicTeamPhase = "team.phase"
)

// Memory event topics.
const (
	TopicMemoryCreated = "memory.created"
)

// ChatMessageEvent is published whenever a message is appended to the
// shared history.
type ChatMessageEvent struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// TaskEvent is published on every task board mutation.
type TaskEvent struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Owner  string `json:"owner,omitempty"`
}

// WorkLoopEvent carries work loop lifecycle metadata.
type WorkLoopEvent struct {
	SessionID string `json:"session_id"`
	Round     int    `json:"round,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// TeamPhaseEvent is published when the team orchestrator enters a phase.
type TeamPhaseEvent struct {
	SessionID string `json:"session_id"`
	Phase     string `json:"phase"`
	Round     int    `json:"round,omitempty"`
}

// MemoryCreatedEvent is published when a cat stores a new memory.
type MemoryCreatedEvent struct {
	CatID  string `json:"cat_id"`
	Memory string `json:"memory"`
}
