package party

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/punchamoorthee/payoutops/internal/domain"
)

// HTTPClient is the JSON-over-HTTP implementation of Client. The wire
// encoding is a collaborator detail; only the error mapping matters to the
// core: 404 and 422 are not-found/invalid-request business rejections,
// everything else is a transport failure.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type checkoutRequest struct {
	PartyID  string `json:"party_id"`
	Latest   bool   `json:"latest,omitempty"`
	Revision int64  `json:"revision,omitempty"`
}

type computeRequest struct {
	PartyID      string      `json:"party_id"`
	ShopID       string      `json:"shop_id"`
	Cash         domain.Cash `json:"cash"`
	PayoutToolID string      `json:"payout_tool_id"`
	Timestamp    time.Time   `json:"timestamp"`
}

type revisionResponse struct {
	Revision int64 `json:"revision"`
}

func (c *HTTPClient) Checkout(ctx context.Context, partyID string, rev RevisionSelector) (*domain.Party, error) {
	req := checkoutRequest{PartyID: partyID, Latest: rev.Latest, Revision: rev.Revision}
	var party domain.Party
	if err := c.post(ctx, "/v1/party/checkout", req, &party); err != nil {
		return nil, err
	}
	return &party, nil
}

func (c *HTTPClient) ComputePayoutCashFlow(ctx context.Context, partyID string, params PayoutParams) ([]domain.FinalCashFlowPosting, error) {
	req := computeRequest{
		PartyID:      partyID,
		ShopID:       params.ShopID,
		Cash:         params.Cash,
		PayoutToolID: params.PayoutToolID,
		Timestamp:    params.Timestamp,
	}
	var postings []domain.FinalCashFlowPosting
	if err := c.post(ctx, "/v1/party/payout-cash-flow", req, &postings); err != nil {
		return nil, err
	}
	return postings, nil
}

func (c *HTTPClient) GetRevision(ctx context.Context, partyID string) (int64, error) {
	req := checkoutRequest{PartyID: partyID}
	var resp revisionResponse
	if err := c.post(ctx, "/v1/party/revision", req, &resp); err != nil {
		return 0, err
	}
	return resp.Revision, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("party management call %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response of %s: %w", path, err)
		}
		return nil
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnprocessableEntity:
		return domain.ErrInvalidRequest
	default:
		return fmt.Errorf("party management call %s: unexpected status %d", path, resp.StatusCode)
	}
}
