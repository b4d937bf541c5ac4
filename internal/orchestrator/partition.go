package orchestrator

import (
	"reflect"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
	"github.com/evalgo/snowflake-to-falkordb/internal/source"
)

// partitionByDeleted splits rows into active and soft-deleted sets per
// delta's deleted_flag_column/deleted_flag_value. With no flag column, or a
// flag column but no configured flag value, every row is treated as active.
func partitionByDeleted(rows []source.LogicalRow, delta *config.DeltaSpec) (active, deleted []source.LogicalRow) {
	if delta == nil || delta.DeletedFlagColumn == nil {
		return rows, nil
	}
	if delta.DeletedFlagValue == nil {
		return rows, nil
	}

	for _, row := range rows {
		v, ok := row.Get(*delta.DeletedFlagColumn)
		if ok && reflect.DeepEqual(v, delta.DeletedFlagValue) {
			deleted = append(deleted, row)
		} else {
			active = append(active, row)
		}
	}
	return active, deleted
}
