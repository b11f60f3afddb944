// Package mirror implements the ledger read API against a REST mirror node.
// The mirror only ever answers questions; submissions go through whatever
// write adapter the deployment wires in.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
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
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// transactionResponse is the subset of the mirror payload the poller needs.
type transactionResponse struct {
	Result      string    `json:"result"`
	ConsensusAt time.Time `json:"consensusTimestamp"`
}

// CheckFinality asks the mirror whether transactionID has reached consensus.
// A 404 means the mirror has not indexed it yet, which is the
// imprint.ErrTxNotIndexed case, not a transport failure.
func (c *Client) CheckFinality(ctx context.Context, transactionID string) (imprint.Finality, error) {
	endpoint := fmt.Sprintf("%s/transactions/%s", c.baseURL, url.PathEscape(transactionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return imprint.Finality{}, fmt.Errorf("mirror: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return imprint.Finality{}, &imprint.TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return imprint.Finality{}, imprint.ErrTxNotIndexed
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return imprint.Finality{}, &imprint.TransientError{Err: fmt.Errorf("mirror: status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return imprint.Finality{}, &imprint.PermanentError{Err: fmt.Errorf("mirror: status %d", resp.StatusCode)}
	}

	var body transactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return imprint.Finality{}, fmt.Errorf("mirror: decode response: %w", err)
	}
	return imprint.Finality{
		Finalized:   body.Result == "SUCCESS",
		ConsensusAt: body.ConsensusAt,
	}, nil
}
