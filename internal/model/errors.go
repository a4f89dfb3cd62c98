package model

import "errors"

var (
	// ErrAuthentication webhook 签名缺失或不匹配，拒绝且不做任何处理。
	ErrAuthentication = errors.New("webhook authentication failed")
	// ErrTenantNotFound 未知店铺；webhook 仍应答成功以停止平台重试。
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrInvalidState 前置状态不满足（例如完成一个非 draft 的 upload）。
	ErrInvalidState = errors.New("invalid state")
	ErrNotFound     = errors.New("record not found")
	// ErrMalformedPayload 签名通过但报文无法解析。
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrDeliveryFailure 出站通知投递失败，最多重试 FlowTriggerMaxAttempts 次。
	ErrDeliveryFailure = errors.New("delivery failure")
	// ErrNotSendable trigger 不是 pending 或已用尽重试次数。
	ErrNotSendable = errors.New("trigger not sendable")
)
