package storage

import (
	"fmt"
)

// MigrateFromJSON 将 JSON 命名空间文件迁移到 SQLite（仅当目标为空时）
// MigrateFromJSON copies the JSON namespace snapshot into an empty SQLite
// store. Returns the number of sessions migrated.
func MigrateFromJSON(jsonStore *JSONStore, store *SQLiteStore) (int, error) {
	if jsonStore == nil || store == nil {
		return 0, nil
	}

	// 目标已有数据则跳过 / Skip when the target already holds data.
	if _, found, err := store.Load(); err != nil {
		return 0, fmt.Errorf("inspect sqlite store: %w", err)
	} else if found {
		return 0, nil
	}

	snap, found, err := jsonStore.Load()
	if err != nil || !found {
		return 0, err
	}
	if err := store.Save(snap); err != nil {
		return 0, fmt.Errorf("migrate snapshot: %w", err)
	}
	return len(snap.Sessions), nil
}
