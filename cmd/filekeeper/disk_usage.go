// disk_usage.go — ёмкость файловой системы под каталогом данных.
// Работает только на Unix-подобных системах (syscall.Statfs).
package main

import (
	"fmt"
	"syscall"
)

// getDiskUsage опрашивает файловую систему, на которой лежит path,
// и возвращает общий, занятый и доступный объём в байтах.
// Занятый объём считается как total - available, то есть с точки
// зрения непривилегированного процесса.
func getDiskUsage(path string) (total, used, available int64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, 0, fmt.Errorf("ошибка statfs для %s: %w", path, err)
	}

	blockSize := int64(stat.Bsize)
	total = int64(stat.Blocks) * blockSize
	available = int64(stat.Bavail) * blockSize
	used = total - available

	return total, used, available, nil
}
