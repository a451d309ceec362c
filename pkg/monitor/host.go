package monitor

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryCheck 主机内存使用率超过 maxUsedPercent 时不健康
func MemoryCheck(maxUsedPercent float64) CheckFunc {
	return func(ctx context.Context) error {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return fmt.Errorf("读取内存信息失败: %w", err)
		}
		if vm.UsedPercent > maxUsedPercent {
			return fmt.Errorf("内存使用率 %.1f%% 超过上限 %.1f%%", vm.UsedPercent, maxUsedPercent)
		}
		return nil
	}
}
