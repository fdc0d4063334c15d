package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/po-approvals/internal/domain"
)

// TeamsWebhook — входящий вебхук Teams / Power Automate.
// 200 и 202 — доставлено.
type TeamsWebhook struct {
	url    string
	client *http.Client
}

func NewTeamsWebhook(url string, client *http.Client) *TeamsWebhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TeamsWebhook{url: url, client: client}
}

func (t *TeamsWebhook) Send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return &PermanentError{Body: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("teams webhook: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ThrottleError{
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
			Cause:      fmt.Errorf("teams webhook: status %d", resp.StatusCode),
		}
	case resp.StatusCode >= 500:
		return fmt.Errorf("teams webhook: status %d: %s", resp.StatusCode, body)
	default:
		return &PermanentError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

func retryAfter(h string) time.Duration {
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Second
}

type adaptiveCardMessage struct {
	Type        string           `json:"type"`
	Attachments []cardAttachment `json:"attachments"`
}

type cardAttachment struct {
	ContentType string       `json:"contentType"`
	ContentURL  *string      `json:"contentUrl"`
	Content     adaptiveCard `json:"content"`
}

type adaptiveCard struct {
	Schema  string        `json:"$schema"`
	Type    string        `json:"type"`
	Version string        `json:"version"`
	Body    []cardElement `json:"body"`
	Actions []cardAction  `json:"actions"`
}

type cardElement struct {
	Type   string     `json:"type"`
	Text   string     `json:"text,omitempty"`
	Weight string     `json:"weight,omitempty"`
	Size   string     `json:"size,omitempty"`
	Wrap   bool       `json:"wrap,omitempty"`
	Facts  []cardFact `json:"facts,omitempty"`
}

type cardFact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type cardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// BuildApprovalCard собирает Adaptive Card запроса на согласование
func BuildApprovalCard(order *domain.Order, rec domain.ApprovalRecord, orderURL string) ([]byte, error) {
	supplier := order.SupplierName
	if supplier == "" {
		supplier = "Unknown Supplier"
	}
	total := "N/A"
	if t := order.FormattedTotal(); t != nil {
		total = *t
	}

	facts := []cardFact{
		{Title: "Order:", Value: order.Reference},
		{Title: "Supplier:", Value: supplier},
		{Title: "Total:", Value: total},
		{Title: "Level:", Value: strconv.Itoa(rec.Level)},
		{Title: "Requested by:", Value: rec.RequestedBy.DisplayName()},
	}

	body := []cardElement{
		{Type: "TextBlock", Text: "PO Approval Request", Weight: "Bolder", Size: "Medium"},
		{Type: "FactSet", Facts: facts},
	}
	if rec.Notes != "" {
		body = append(body, cardElement{Type: "TextBlock", Text: rec.Notes, Wrap: true})
	}

	msg := adaptiveCardMessage{
		Type: "message",
		Attachments: []cardAttachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: adaptiveCard{
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Type:    "AdaptiveCard",
				Version: "1.4",
				Body:    body,
				Actions: []cardAction{{Type: "Action.OpenUrl", Title: "View Order", URL: orderURL}},
			},
		}},
	}
	return json.Marshal(msg)
}
