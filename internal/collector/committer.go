package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"codeberg.org/mutker/vramwatch/internal/errors"
	"codeberg.org/mutker/vramwatch/internal/store"
	"codeberg.org/mutker/vramwatch/internal/vram"
)

// StoreCommitter derives metrics from the raw payload and writes the
// snapshot to the local store. This is the same path the API's push endpoint
// takes, so pulled and pushed samples end up identical in storage.
type StoreCommitter struct {
	writer store.SnapshotWriter
}

func NewStoreCommitter(writer store.SnapshotWriter) *StoreCommitter {
	return &StoreCommitter{writer: writer}
}

func (c *StoreCommitter) Commit(ctx context.Context, nodeID string, payload *vram.Payload) error {
	snapshot := vram.NewSnapshot(payload, time.Now().UTC())

	if _, err := c.writer.InsertSnapshot(ctx, nodeID, snapshot); err != nil {
		return errors.New().Wrap(ErrCommitFailed, err)
	}

	return nil
}

// APICommitter forwards raw payloads to a central vramwatch API instead of
// writing locally. Agent mode uses it so remote nodes need no database.
type APICommitter struct {
	submitURL string
	http      *http.Client
}

func NewAPICommitter(apiURL string) *APICommitter {
	return &APICommitter{
		submitURL: strings.TrimRight(apiURL, "/") + "/snapshots",
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

type submitRequest struct {
	NodeID string `json:"node_id"`
	*vram.Payload
}

func (c *APICommitter) Commit(ctx context.Context, nodeID string, payload *vram.Payload) error {
	errFactory := errors.New()

	body, err := json.Marshal(submitRequest{NodeID: nodeID, Payload: payload})
	if err != nil {
		return errFactory.Wrap(ErrSubmitFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.submitURL, bytes.NewReader(body))
	if err != nil {
		return errFactory.Wrap(ErrSubmitFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errFactory.Wrap(ErrSubmitFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errFactory.WithMessage(ErrSubmitFailed,
			fmt.Sprintf("Snapshot submission returned status %d", resp.StatusCode))
	}

	return nil
}
