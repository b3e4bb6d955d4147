package shared

// Task types
const (
	TypeContractCompletionNotice = "contract:completion_notice"
	TypeFailStaleProcessing      = "contract:fail_stale_processing"
	TypeCompletionNoticeSweep    = "contract:completion_notice_sweep"
)

// Queues, highest priority first
const (
	QueueHigh    = "high"
	QueueDefault = "default"
	QueueLow     = "low"
)

// CompletionNoticePayload is enqueued once, by the signature that completed
// the contract.
type CompletionNoticePayload struct {
	ContractID string `json:"contractId"`
}
