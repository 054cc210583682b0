package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/teamdigitale/italia-messages-web/internal/dispatch"
	"github.com/teamdigitale/italia-messages-web/internal/profile"
	"github.com/teamdigitale/italia-messages-web/internal/report"
	"github.com/teamdigitale/italia-messages-web/internal/store"
	logx "github.com/teamdigitale/italia-messages-web/pkg/logx"
)

func (s *Server) createTemplate(c *gin.Context) {
	var req createTemplateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}

	doc, err := store.NewDocument(store.TypeTemplate, "", "", store.Template{
		Subject:  req.Subject,
		Markdown: req.Markdown,
	})
	if err == nil {
		doc.ID, err = s.store.Insert(c.Request.Context(), doc)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": doc.ID})
}

// createBatch persists the batch record, then hands the raw recipient list to
// the resolution workers and returns immediately. The console polls
// /batches/:id/contacts to watch profiles arrive.
func (s *Server) createBatch(c *gin.Context) {
	var req createBatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	recipients := make([]string, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		if strings.TrimSpace(r) != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipients must contain at least one identifier"})
		return
	}

	doc, err := store.NewDocument(store.TypeBatch, "", "", store.Batch{TemplateID: req.TemplateID})
	if err == nil {
		doc.ID, err = s.store.Insert(c.Request.Context(), doc)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := s.profiles.Enqueue(profile.Job{BatchID: doc.ID, Recipients: recipients, BaseURL: req.BaseURL}); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "id": doc.ID})
		return
	}
	c.JSON(http.StatusAccepted, createBatchResp{ID: doc.ID, Submitted: len(recipients)})
}

func (s *Server) listBatchContacts(c *gin.Context) {
	docs, err := s.store.FindAll(c.Request.Context(), store.Query{
		Type:    store.TypeContact,
		BatchID: c.Param("id"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]documentResp, len(docs))
	for i, d := range docs {
		out[i] = toDocumentResp(d)
	}
	c.JSON(http.StatusOK, gin.H{"contacts": out})
}

func (s *Server) sendMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}

	doc, err := s.orch.SendOne(c.Request.Context(), req.TemplateID, req.Recipient, dispatch.ContentParams{
		DueDate: req.DueDate,
		Amount:  req.Amount,
		Notice:  req.Notice,
	})
	if err != nil {
		c.JSON(sendErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toDocumentResp(doc))
}

func (s *Server) sendBatch(c *gin.Context) {
	batchID := c.Param("id")
	var req contentParamsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}

	batchDoc, err := s.store.GetByID(c.Request.Context(), batchID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	var batch store.Batch
	if err := store.Decode(batchDoc, &batch); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	results, err := s.orch.SendBatch(c.Request.Context(), batch.TemplateID, batchID, dispatch.ContentParams{
		DueDate: req.DueDate,
		Amount:  req.Amount,
		Notice:  req.Notice,
	})
	if err != nil && !errors.Is(err, dispatch.ErrBatchPartialFailure) {
		c.JSON(sendErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	resp := batchSendResp{BatchID: batchID, Total: len(results)}
	resp.Results = make([]sendResultResp, len(results))
	for i, r := range results {
		resp.Results[i] = sendResultResp{
			Recipient: r.RecipientID,
			MessageID: r.MessageID,
			RemoteID:  r.RemoteID,
		}
		if r.Err != nil {
			resp.Results[i].Error = r.Err.Error()
			resp.Failed++
		}
	}
	if resp.Failed > 0 {
		s.log.Warn("batch send returned failures", logx.String("batch", batchID), logx.Int("failed", resp.Failed))
		c.JSON(http.StatusMultiStatus, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// sendErrorStatus maps a dispatch error to an HTTP status: missing documents
// are 404, validation failures are the caller's fault, everything else is a
// failed exchange with the remote API.
func sendErrorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrInvalidContent):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// streamEvents pushes resolution progress to the console as server-sent
// events: one event per resolved or failed recipient, plus the best-effort
// batch completion signal.
func (s *Server) streamEvents(c *gin.Context) {
	ch, unsub := s.bus.Subscribe(32)
	defer unsub()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Type, data)
			c.Writer.Flush()
		}
	}
}

func (s *Server) getStats(c *gin.Context) {
	kind := report.Kind(c.Param("kind"))
	if kind != report.KindMessage && kind != report.KindBatch {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be message or batch"})
		return
	}
	stats, err := s.stats.StatsFor(c.Request.Context(), kind, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getDocument(wantType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := s.store.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if doc.Type != wantType {
			c.JSON(http.StatusNotFound, gin.H{"error": "document is not a " + wantType})
			return
		}
		c.JSON(http.StatusOK, toDocumentResp(doc))
	}
}

func toDocumentResp(d store.Document) documentResp {
	var body any
	if err := json.Unmarshal(d.Body, &body); err != nil {
		body = string(d.Body)
	}
	return documentResp{
		ID:        d.ID,
		Type:      d.Type,
		BatchID:   d.BatchID,
		CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339),
		Body:      body,
	}
}
