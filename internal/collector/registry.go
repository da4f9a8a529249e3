package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"codeberg.org/mutker/vramwatch/internal/errors"
	"codeberg.org/mutker/vramwatch/internal/store"
	"github.com/cenkalti/backoff/v4"
)

// Registry fetches the node list from a central vramwatch API. Agent mode
// reconciles its worker set against this instead of a local database.
type Registry struct {
	nodesURL string
	http     *http.Client
}

func NewRegistry(apiURL string) *Registry {
	return &Registry{
		nodesURL: strings.TrimRight(apiURL, "/") + "/nodes",
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// EnabledNodes returns the registry's enabled nodes, retrying transient
// failures with exponential backoff for up to 30 seconds.
func (r *Registry) EnabledNodes(ctx context.Context) ([]store.Node, error) {
	var nodes []store.Node

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		fetched, err := r.fetchNodes(ctx)
		if err != nil {
			return err
		}
		nodes = fetched
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, errors.New().Wrap(ErrRegistryFetch, err)
	}

	enabled := nodes[:0]
	for _, node := range nodes {
		if node.Enabled {
			enabled = append(enabled, node)
		}
	}

	return enabled, nil
}

func (r *Registry) fetchNodes(ctx context.Context) ([]store.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.nodesURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node registry returned status %d", resp.StatusCode)
	}

	var wire []nodeRecord
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, err
	}

	nodes := make([]store.Node, 0, len(wire))
	for _, n := range wire {
		nodes = append(nodes, store.Node{
			ID:      n.ID,
			Name:    n.Name,
			Host:    n.Host,
			Port:    n.Port,
			Enabled: n.Enabled,
		})
	}

	return nodes, nil
}

// nodeRecord mirrors the API's node representation.
type nodeRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Enabled bool   `json:"enabled"`
}
