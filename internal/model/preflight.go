package model

// PreflightStatus 单个文件的预检结论，也用作 Upload 的汇总结论。
type PreflightStatus string

const (
	PreflightPending PreflightStatus = "pending"
	PreflightOK      PreflightStatus = "ok"
	PreflightWarning PreflightStatus = "warning"
	PreflightError   PreflightStatus = "error"
)

// Valid 只接受校验器能上报的三种结论。
func (s PreflightStatus) Valid() bool {
	switch s {
	case PreflightOK, PreflightWarning, PreflightError:
		return true
	}
	return false
}

// PreflightCheck 一项检查（分辨率、色彩模式、尺寸...）。
type PreflightCheck struct {
	Name    string          `json:"name"`
	Status  PreflightStatus `json:"status"`
	Message string          `json:"message,omitempty"`
}

// PreflightResult 校验器返回的结构化检查列表。
type PreflightResult struct {
	Checks []PreflightCheck `json:"checks"`
}

// Aggregate 由各 item 状态推导 Upload 汇总结论：
// 任一 error → error；否则任一 warning → warning；全部 ok → ok；否则 pending。
// 纯函数，与顺序无关，可重复计算。
func Aggregate(statuses []PreflightStatus) PreflightStatus {
	if len(statuses) == 0 {
		return PreflightPending
	}
	hasWarning := false
	allOK := true
	for _, s := range statuses {
		switch s {
		case PreflightError:
			return PreflightError
		case PreflightWarning:
			hasWarning = true
			allOK = false
		case PreflightOK:
		default:
			allOK = false
		}
	}
	if hasWarning {
		return PreflightWarning
	}
	if allOK {
		return PreflightOK
	}
	return PreflightPending
}

// ResolveStatus 汇总结论落定后按完成时的 autoApprove 策略决定 Upload 状态。
// 汇总仍为 pending 时返回 processing。
func ResolveStatus(summary PreflightStatus, autoApprove bool) UploadStatus {
	switch summary {
	case PreflightError:
		return UploadBlocked
	case PreflightWarning:
		return UploadNeedsReview
	case PreflightOK:
		if autoApprove {
			return UploadApproved
		}
		return UploadPendingApproval
	}
	return UploadProcessing
}
