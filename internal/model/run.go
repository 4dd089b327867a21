package model

import (
	"time"
)

// Run 一次批量执行
type Run struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Status      string    `json:"status" gorm:"type:varchar(16);not null;default:'pending'"`
	TargetCount int       `json:"target_count"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Duration    int64     `json:"duration"` // 执行时长，毫秒
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Run) TableName() string {
	return "runs"
}

// RunStatus 执行状态枚举
const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
)

// CommandRecord 单条命令的执行记录
type CommandRecord struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	RunID      string    `json:"run_id" gorm:"type:varchar(64);not null;index"`
	Host       string    `json:"host" gorm:"type:varchar(128);not null;index:idx_record_target"`
	Port       int       `json:"port" gorm:"not null;default:22;index:idx_record_target"`
	Username   string    `json:"username" gorm:"type:varchar(64);index:idx_record_target"`
	Prompt     string    `json:"prompt" gorm:"type:varchar(128)"`
	Command    string    `json:"command" gorm:"type:text;not null"`
	Output     string    `json:"output" gorm:"type:text"`
	LineCount  int       `json:"line_count"`
	ExitStatus int       `json:"exit_status" gorm:"default:0"`
	ErrorMsg   string    `json:"error_msg" gorm:"type:text"`
	Transcript string    `json:"transcript" gorm:"type:varchar(512)"`
	Duration   int64     `json:"duration"` // 毫秒
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// TableName 表名
func (CommandRecord) TableName() string {
	return "command_records"
}
