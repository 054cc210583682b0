package web

/* -------------------- Request/Response DTO -------------------- */

type createTemplateReq struct {
	Subject  string `json:"subject" binding:"required"`
	Markdown string `json:"markdown" binding:"required"`
}

type createBatchReq struct {
	TemplateID string   `json:"templateId" binding:"required"`
	Recipients []string `json:"recipients" binding:"required"`
	// BaseURL optionally points the resolution lookups at a non-default
	// endpoint, e.g. a local mock backend.
	BaseURL string `json:"base_url,omitempty"`
}

type createBatchResp struct {
	ID        string `json:"id"`
	Submitted int    `json:"submitted"`
}

type contentParamsReq struct {
	DueDate string `json:"due_date,omitempty"`
	Amount  *int64 `json:"amount,omitempty"`
	Notice  string `json:"payment_notice,omitempty"`
}

type sendMessageReq struct {
	TemplateID string `json:"templateId" binding:"required"`
	Recipient  string `json:"recipient" binding:"required"`
	contentParamsReq
}

type sendResultResp struct {
	Recipient string `json:"recipient"`
	MessageID string `json:"messageId,omitempty"`
	RemoteID  string `json:"remoteId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type batchSendResp struct {
	BatchID string           `json:"batchId"`
	Total   int              `json:"total"`
	Failed  int              `json:"failed"`
	Results []sendResultResp `json:"results"`
}

type documentResp struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	BatchID   string `json:"batchId,omitempty"`
	CreatedAt string `json:"created_at"`
	Body      any    `json:"body"`
}
