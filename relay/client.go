// Package relay submits ledger messages through an HTTP relay gateway. The
// relay accepts a topic + base64 message and answers with the consensus
// network's provisional receipt.
package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"imprintflow/imprint"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

type submitRequest struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

type submitResponse struct {
	TransactionID  string     `json:"transactionId"`
	SequenceNumber int64      `json:"sequenceNumber"`
	SubmittedAt    time.Time  `json:"submittedAt"`
	ConsensusAt    *time.Time `json:"consensusTimestamp,omitempty"`
}

// Submit posts the message to the relay. 4xx responses are permanent (the
// ledger will never accept the message as sent); everything else that goes
// wrong is transient and left to the caller's retry policy.
func (c *Client) Submit(ctx context.Context, topic string, message []byte) (imprint.Receipt, error) {
	payload, err := json.Marshal(submitRequest{
		Topic:   topic,
		Message: base64.StdEncoding.EncodeToString(message),
	})
	if err != nil {
		return imprint.Receipt{}, &imprint.PermanentError{Err: fmt.Errorf("relay: encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return imprint.Receipt{}, &imprint.PermanentError{Err: fmt.Errorf("relay: build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return imprint.Receipt{}, &imprint.TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return imprint.Receipt{}, &imprint.PermanentError{Err: fmt.Errorf("relay: status %d", resp.StatusCode)}
	default:
		return imprint.Receipt{}, &imprint.TransientError{Err: fmt.Errorf("relay: status %d", resp.StatusCode)}
	}

	var body submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return imprint.Receipt{}, &imprint.TransientError{Err: fmt.Errorf("relay: decode response: %w", err)}
	}
	if body.TransactionID == "" {
		return imprint.Receipt{}, &imprint.PermanentError{Err: fmt.Errorf("relay: response missing transaction id")}
	}
	receipt := imprint.Receipt{
		TransactionID:  body.TransactionID,
		SequenceNumber: body.SequenceNumber,
		SubmittedAt:    body.SubmittedAt,
		ConsensusAt:    body.ConsensusAt,
	}
	if receipt.SubmittedAt.IsZero() {
		receipt.SubmittedAt = time.Now()
	}
	return receipt, nil
}
