package domain

// GroupPlan 是对一个 DuplicateGroup 的清理计划（不做任何删除）。
type GroupPlan struct {
	Group    DuplicateGroup
	Survivor *FileRecord
	Kill     []*FileRecord

	// PreserveOnly 表示该组全部位于 preserve 目录内（按 dedupe 策略在目录内部去重）。
	PreserveOnly bool
}
