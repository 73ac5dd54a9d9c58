package db

type TaskRecord struct {
	TaskID         string `gorm:"column:task_id;primaryKey"`
	Goal           string `gorm:"column:goal;not null;default:''"`
	Status         string `gorm:"column:status;not null;default:'pending'"`
	Reason         string `gorm:"column:reason;not null;default:''"`
	FinalAnswer    string `gorm:"column:final_answer;not null;default:''"`
	ConversationID string `gorm:"column:conversation_id;not null;default:''"`
	StepCount      int    `gorm:"column:step_count;not null;default:0"`
	CreatedAt      int64  `gorm:"column:created_at;not null;default:0"`
	StartedAt      int64  `gorm:"column:started_at;not null;default:0"`
	EndedAt        int64  `gorm:"column:ended_at;not null;default:0"`
}

func (TaskRecord) TableName() string { return "tasks" }

type StepRecord struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement"`
	TaskID       string `gorm:"column:task_id;not null"`
	StepIndex    int    `gorm:"column:step_index;not null;default:0"`
	Kind         string `gorm:"column:kind;not null;default:''"`
	Reasoning    string `gorm:"column:reasoning;not null;default:''"`
	ToolName     string `gorm:"column:tool_name;not null;default:''"`
	ToolArgsJSON string `gorm:"column:tool_args_json;not null;default:''"`
	Observation  string `gorm:"column:observation;not null;default:''"`
	CreatedAt    int64  `gorm:"column:created_at;not null;default:0"`
}

func (StepRecord) TableName() string { return "task_steps" }

type ConversationMessage struct {
	ID             int64  `gorm:"column:id;primaryKey;autoIncrement"`
	ConversationID string `gorm:"column:conversation_id;not null"`
	Role           string `gorm:"column:role;not null;default:''"`
	Content        string `gorm:"column:content;not null;default:''"`
	CreatedAt      int64  `gorm:"column:created_at;not null;default:0"`
}

func (ConversationMessage) TableName() string { return "conversation_messages" }
