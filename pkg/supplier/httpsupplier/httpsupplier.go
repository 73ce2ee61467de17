// Package httpsupplier implements supplier.Supplier over a long-polling
// HTTP endpoint: GET <base>/getUpdates?offset=&limit=&timeout=, expecting a
// JSON array of update records in the response body.
package httpsupplier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/armadaproject/botrunner/internal/common/runnererrors"
	"github.com/armadaproject/botrunner/pkg/update"
)

// Record is the wire shape of one update as returned by the remote
// endpoint. UpdateID must be present and strictly increasing across the
// stream; Payload is opaque to the runner.
type Record struct {
	ID      int64           `json:"update_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UpdateID implements update.Update.
func (r Record) UpdateID() int64 { return r.ID }

type errorBody struct {
	ErrorCode  int    `json:"error_code"`
	RetryAfter int    `json:"retry_after"`
	Message    string `json:"description"`
}

// Supplier pulls updates from a long-polling HTTP endpoint.
type Supplier struct {
	baseURL    string
	httpClient *http.Client
	// LongPollTimeout is the server-side timeout value sent in the
	// request's timeout query param; the HTTP client's own deadline is
	// derived from the caller's ctx, not from this field.
	LongPollTimeout time.Duration
}

// New constructs an httpsupplier.Supplier against baseURL, which must point
// at the getUpdates endpoint's parent path (no trailing slash).
func New(baseURL string, httpClient *http.Client) *Supplier {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Supplier{baseURL: baseURL, httpClient: httpClient, LongPollTimeout: 30 * time.Second}
}

func (s *Supplier) Supply(ctx context.Context, offset int64, batchSize int) (update.Batch, error) {
	if batchSize < 1 {
		batchSize = 1
	}
	if batchSize > 100 {
		batchSize = 100
	}

	u, err := url.Parse(s.baseURL + "/getUpdates")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("limit", strconv.Itoa(batchSize))
	q.Set("timeout", strconv.FormatInt(int64(s.LongPollTimeout/time.Second), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &runnererrors.ErrAborted{}
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var records []Record
		if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
			return nil, fmt.Errorf("decoding getUpdates response: %w", err)
		}
		batch := make(update.Batch, len(records))
		for i, r := range records {
			batch[i] = r
		}
		return batch, nil
	case http.StatusUnauthorized, http.StatusConflict:
		var body errorBody
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, &runnererrors.ErrNonRecoverable{Code: resp.StatusCode, Message: body.Message}
	case http.StatusTooManyRequests:
		var body errorBody
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, &runnererrors.ErrRateLimited{
			RetryAfter: time.Duration(body.RetryAfter) * time.Second,
			Message:    body.Message,
		}
	default:
		var body errorBody
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, fmt.Errorf("getUpdates failed with status %d: %s", resp.StatusCode, body.Message)
	}
}
