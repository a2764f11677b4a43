package redis

import "fmt"

// RateLimitKey 是 dispatch 限流的有序集合键，按操作员或 IP 区分。
func RateLimitKey(kind, id string) string {
	return fmt.Sprintf("sorter:rate_limit:dispatch:%s:%s", kind, id)
}

// LastClaimKey 记录某操作员最近一次领取的任务。
func LastClaimKey(operator string) string {
	return fmt.Sprintf("sorter:claim:last:%s", operator)
}
