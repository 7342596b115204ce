package cache

type partitionRow struct {
	ID        uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string `gorm:"column:name;type:text;not null;uniqueIndex"`
	CreatedAt string `gorm:"column:created_at;type:text;not null"`
}

func (partitionRow) TableName() string {
	return "partitions"
}

// entryRow holds one serialized response. Seq grows on every write and
// gives the eviction order.
type entryRow struct {
	Seq           uint64 `gorm:"column:seq;primaryKey;autoIncrement"`
	PartitionName string `gorm:"column:partition_name;type:text;not null;uniqueIndex:idx_entries_partition_key"`
	Key           string `gorm:"column:entry_key;type:text;not null;uniqueIndex:idx_entries_partition_key"`
	Data          []byte `gorm:"column:data;type:blob;not null"`
	StoredAt      string `gorm:"column:stored_at;type:text;not null"`
}

func (entryRow) TableName() string {
	return "entries"
}

// metaRow is a named value kept next to the partitions, such as the last
// activated worker version
type metaRow struct {
	Key   string `gorm:"column:meta_key;type:text;primaryKey"`
	Value string `gorm:"column:meta_value;type:text;not null"`
}

func (metaRow) TableName() string {
	return "meta"
}
