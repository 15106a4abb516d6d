package order

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// InventoryClient talks to the catalog service holding paper book stock. Both calls are
// synchronous with a bounded timeout and idempotent on the catalog side, quantity
// changes are keyed by the order uid.
type InventoryClient interface {
	DecreasePaperBookQuantity(ctx context.Context, orderUID string, items []Item) error
	IncreasePaperBookQuantity(ctx context.Context, orderUID string, items []Item) error
}

func NewHTTPInventoryClient(baseURL string, timeout time.Duration) InventoryClient {
	return &httpInventoryClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type httpInventoryClient struct {
	baseURL string
	client  *http.Client
}

type inventoryRequest struct {
	OrderUID string          `json:"order_uid"`
	Items    []inventoryItem `json:"items"`
}

type inventoryItem struct {
	SourceUID string `json:"source_uid"`
	Quantity  int    `json:"quantity"`
}

func (c httpInventoryClient) DecreasePaperBookQuantity(ctx context.Context, orderUID string, items []Item) error {
	return c.call(ctx, "/api/paper-books/decrease-quantity", orderUID, items)
}

func (c httpInventoryClient) IncreasePaperBookQuantity(ctx context.Context, orderUID string, items []Item) error {
	return c.call(ctx, "/api/paper-books/increase-quantity", orderUID, items)
}

func (c httpInventoryClient) call(ctx context.Context, path, orderUID string, items []Item) error {
	payload := inventoryRequest{OrderUID: orderUID}

	for _, item := range items {
		payload.Items = append(payload.Items, inventoryItem{SourceUID: item.SourceUID, Quantity: item.Quantity})
	}

	body, err := json.Marshal(payload)

	if err != nil {
		return errors.WithStack(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))

	if err != nil {
		return errors.Wrapf(err, "building inventory request %s", path)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)

	if err != nil {
		return errors.Wrapf(err, "calling inventory %s for order %s", path, orderUID)
	}

	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := ioutil.ReadAll(resp.Body)

	return errors.Errorf("inventory %s for order %s returned %d: %s", path, orderUID, resp.StatusCode, string(respBody))
}
