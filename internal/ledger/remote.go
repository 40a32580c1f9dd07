package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/punchamoorthee/payoutops/internal/domain"
)

// HTTPAccounter is the JSON-over-HTTP implementation of Accounter. 422 maps
// to an invalid-request business rejection (never retried upstream), 404 to
// not-found; everything else surfaces as a transport failure.
type HTTPAccounter struct {
	baseURL string
	http    *http.Client
}

func NewHTTPAccounter(baseURL string, timeout time.Duration) *HTTPAccounter {
	return &HTTPAccounter{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type holdResponse struct {
	Clock domain.Clock `json:"clock"`
}

type balanceRequest struct {
	AccountID int64        `json:"account_id"`
	Clock     domain.Clock `json:"clock"`
}

func (a *HTTPAccounter) Hold(ctx context.Context, change PostingPlanChange) (domain.Clock, error) {
	var resp holdResponse
	if err := a.post(ctx, "/v1/plans/hold", change, &resp); err != nil {
		return domain.Clock{}, err
	}
	return resp.Clock, nil
}

func (a *HTTPAccounter) CommitPlan(ctx context.Context, plan PostingPlan) error {
	return a.post(ctx, "/v1/plans/commit", plan, nil)
}

func (a *HTTPAccounter) RollbackPlan(ctx context.Context, plan PostingPlan) error {
	return a.post(ctx, "/v1/plans/rollback", plan, nil)
}

func (a *HTTPAccounter) GetBalanceByID(ctx context.Context, accountID int64, clock domain.Clock) (*domain.Balance, error) {
	var balance domain.Balance
	if err := a.post(ctx, "/v1/balances", balanceRequest{AccountID: accountID, Clock: clock}, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

func (a *HTTPAccounter) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("accounter call %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response of %s: %w", path, err)
		}
		return nil
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnprocessableEntity:
		return domain.ErrInvalidRequest
	default:
		return fmt.Errorf("accounter call %s: unexpected status %d", path, resp.StatusCode)
	}
}
