package model

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStatuses = []PreflightStatus{PreflightPending, PreflightOK, PreflightWarning, PreflightError}

// expected 按定义逐条判断，与 Aggregate 的实现方式无关。
func expected(items []PreflightStatus) PreflightStatus {
	has := func(s PreflightStatus) bool {
		for _, it := range items {
			if it == s {
				return true
			}
		}
		return false
	}
	if has(PreflightError) {
		return PreflightError
	}
	if has(PreflightWarning) {
		return PreflightWarning
	}
	for _, it := range items {
		if it != PreflightOK {
			return PreflightPending
		}
	}
	return PreflightOK
}

func permutations(in []PreflightStatus) [][]PreflightStatus {
	if len(in) <= 1 {
		return [][]PreflightStatus{append([]PreflightStatus(nil), in...)}
	}
	var out [][]PreflightStatus
	for i := range in {
		rest := make([]PreflightStatus, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]PreflightStatus{in[i]}, p...))
		}
	}
	return out
}

func TestAggregateAllThreeItemSets(t *testing.T) {
	for _, a := range allStatuses {
		for _, b := range allStatuses {
			for _, c := range allStatuses {
				set := []PreflightStatus{a, b, c}
				want := expected(set)
				for _, p := range permutations(set) {
					assert.Equal(t, want, Aggregate(p), fmt.Sprintf("items %v", p))
				}
			}
		}
	}
}

func TestAggregateIsIdempotent(t *testing.T) {
	set := []PreflightStatus{PreflightOK, PreflightWarning, PreflightOK}
	first := Aggregate(set)
	assert.Equal(t, first, Aggregate(set))
	assert.Equal(t, first, Aggregate(append(set, first)))
}

func TestAggregateEmptyIsPending(t *testing.T) {
	assert.Equal(t, PreflightPending, Aggregate(nil))
}

func TestResolveStatus(t *testing.T) {
	cases := []struct {
		summary     PreflightStatus
		autoApprove bool
		want        UploadStatus
	}{
		{PreflightPending, true, UploadProcessing},
		{PreflightPending, false, UploadProcessing},
		{PreflightOK, true, UploadApproved},
		{PreflightOK, false, UploadPendingApproval},
		{PreflightWarning, true, UploadNeedsReview},
		{PreflightWarning, false, UploadNeedsReview},
		{PreflightError, true, UploadBlocked},
		{PreflightError, false, UploadBlocked},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ResolveStatus(tc.summary, tc.autoApprove), "%s autoApprove=%v", tc.summary, tc.autoApprove)
	}
}

func TestUploadAutoApproveReadsMetadata(t *testing.T) {
	assert.False(t, (&Upload{}).AutoApprove())
	assert.False(t, (&Upload{Metadata: map[string]any{MetaAutoApprove: "true"}}).AutoApprove())
	assert.True(t, (&Upload{Metadata: map[string]any{MetaAutoApprove: true}}).AutoApprove())
}

func TestEventHandle(t *testing.T) {
	assert.Equal(t, "upload-received", EventUploadReceived.Handle())
	assert.Equal(t, "preflight-result", EventPreflightResult.Handle())
	assert.Equal(t, "export-completed", EventExportCompleted.Handle())
}
