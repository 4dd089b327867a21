package database

import (
	"gorm.io/gorm"

	"github.com/sshcollectorpro/sshexpect/internal/model"
)

// SaveRun 新建或更新执行记录
func SaveRun(run *model.Run) error {
	return withRetry(func(tx *gorm.DB) error {
		return tx.Save(run).Error
	})
}

// SaveRecords 批量写入命令记录
func SaveRecords(records []model.CommandRecord) error {
	if len(records) == 0 {
		return nil
	}
	return withRetry(func(tx *gorm.DB) error {
		return tx.CreateInBatches(records, 100).Error
	})
}

// RecordQuery 记录查询条件
type RecordQuery struct {
	Host  string
	RunID string
	Limit int
}

// ListRecords 按创建时间倒序查询命令记录
func ListRecords(q RecordQuery) ([]model.CommandRecord, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var records []model.CommandRecord
	err := withRetry(func(tx *gorm.DB) error {
		query := tx.Model(&model.CommandRecord{})
		if q.Host != "" {
			query = query.Where("host = ?", q.Host)
		}
		if q.RunID != "" {
			query = query.Where("run_id = ?", q.RunID)
		}
		return query.Order("created_at DESC").Limit(limit).Find(&records).Error
	})
	return records, err
}

// GetRun 按 ID 获取执行记录
func GetRun(id string) (*model.Run, error) {
	var run model.Run
	err := withRetry(func(tx *gorm.DB) error {
		return tx.First(&run, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}
