package redis

import "fmt"

// FlowDispatcherLockKey 出站通知投递循环的单实例锁。
const FlowDispatcherLockKey = "print_upload:flow:dispatcher"

// PreflightJobKey 某个 item 的预检任务状态（queued/relayed/done）。
func PreflightJobKey(uploadID, itemID string) string {
	return fmt.Sprintf("print_upload:preflight:job:%s:%s", uploadID, itemID)
}

// RateLimitKey 店面接口限流键，scope 为 shop 或 ip。
func RateLimitKey(scope, id string) string {
	return fmt.Sprintf("rate_limit:print_upload:%s:%s", scope, id)
}
