// Package store writes events into the low-latency row store backing
// live dashboards. One document per event; the document ID is derived
// from the event's natural key so redelivery collapses into an upsert.
package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/driftline-systems/driftline-stack/common/models"
)

// Config holds OpenSearch connection and index configuration.
type Config struct {
	URL             string
	Username        string
	Password        string
	TLSSkipVerify   bool
	IndexPrefix     string
	ShardCount      int
	ReplicaCount    int
	RefreshInterval string
}

// DefaultConfig returns sensible defaults for the row store.
func DefaultConfig() Config {
	return Config{
		URL:             "https://localhost:9200",
		Username:        "admin",
		Password:        "admin",
		TLSSkipVerify:   true,
		IndexPrefix:     "driftline-events",
		ShardCount:      1,
		ReplicaCount:    0,
		RefreshInterval: "1s",
	}
}

// Client is the OpenSearch-backed row store.
type Client struct {
	osClient    *opensearch.Client
	config      Config
	initialized bool
}

// NewClient creates a new row store client.
func NewClient(cfg Config) (*Client, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLSSkipVerify,
			},
		},
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &Client{
		osClient: client,
		config:   cfg,
	}, nil
}

// Initialize verifies the connection and sets up the index template and
// write index.
func (c *Client) Initialize(ctx context.Context) error {
	if c.initialized {
		return nil
	}

	info, err := c.osClient.Info()
	if err != nil {
		return fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	if err := c.createIndexTemplate(ctx); err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}

	if err := c.createInitialIndex(ctx); err != nil {
		return fmt.Errorf("failed to create initial index: %w", err)
	}

	c.initialized = true
	return nil
}

// Upsert writes one event. The deterministic document ID makes the
// write idempotent under at-least-once delivery.
func (c *Client) Upsert(ctx context.Context, event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      c.WriteAlias(),
		DocumentID: DocumentID(event),
		Body:       bytes.NewReader(data),
	}

	res, err := req.Do(ctx, c.osClient)
	if err != nil {
		return fmt.Errorf("index event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index event: %s - %s", res.Status(), string(body))
	}
	return nil
}

// WriteAlias returns the alias upserts go through.
func (c *Client) WriteAlias() string {
	return c.config.IndexPrefix + "-write"
}

// DocumentID hashes the event's natural key into a stable document ID.
func DocumentID(event *models.Event) string {
	sum := sha256.Sum256([]byte(event.NaturalKey()))
	return hex.EncodeToString(sum[:])
}

func (c *Client) createIndexTemplate(ctx context.Context) error {
	template := map[string]any{
		"index_patterns": []string{c.config.IndexPrefix + "-*"},
		"template": map[string]any{
			"settings": map[string]any{
				"number_of_shards":   c.config.ShardCount,
				"number_of_replicas": c.config.ReplicaCount,
				"refresh_interval":   c.config.RefreshInterval,
			},
			"mappings": c.eventMappings(),
		},
		"priority": 100,
	}

	body, err := json.Marshal(template)
	if err != nil {
		return err
	}

	res, err := c.osClient.Indices.PutIndexTemplate(
		c.config.IndexPrefix+"-template",
		bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to create index template: %s - %s", res.Status(), string(bodyBytes))
	}
	return nil
}

// eventMappings declares the flattened event columns. Strings are
// keyword fields for exact dashboard filters; metadata stays a dynamic
// object so new channel-specific attributes need no mapping change.
func (c *Client) eventMappings() map[string]any {
	keyword := map[string]any{"type": "keyword"}
	return map[string]any{
		"dynamic": true,
		"properties": map[string]any{
			"channel":            keyword,
			"event_type":         keyword,
			"session_id":         keyword,
			"platform":           keyword,
			"event_category":     keyword,
			"resource_id":        keyword,
			"resource_title":     map[string]any{"type": "text"},
			"interaction_target": keyword,
			"user_id":            keyword,
			"device_id":          keyword,
			"user_agent":         map[string]any{"type": "text"},
			"client_version":     keyword,
			"interaction_value":  map[string]any{"type": "double"},
			"interaction_text":   map[string]any{"type": "text"},
			"timestamp":          map[string]any{"type": "date"},
			"metadata":           map[string]any{"type": "object", "dynamic": true},
		},
	}
}

func (c *Client) createInitialIndex(ctx context.Context) error {
	indexName := c.config.IndexPrefix + "-000001"
	writeAlias := c.WriteAlias()

	exists, err := c.osClient.Indices.Exists([]string{indexName})
	if err != nil {
		return err
	}
	defer exists.Body.Close()

	if exists.StatusCode == 200 {
		return nil
	}

	res, err := c.osClient.Indices.Create(indexName)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to create initial index: %s - %s", res.Status(), string(bodyBytes))
	}

	aliasActions := map[string]any{
		"actions": []map[string]any{
			{
				"add": map[string]any{
					"index":          indexName,
					"alias":          writeAlias,
					"is_write_index": true,
				},
			},
		},
	}

	body, err := json.Marshal(aliasActions)
	if err != nil {
		return err
	}

	aliasReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "/_aliases", bytes.NewReader(body))
	if err != nil {
		return err
	}
	aliasReq.Header.Set("Content-Type", "application/json")

	aliasRes, err := c.osClient.Transport.Perform(aliasReq)
	if err != nil {
		return err
	}
	defer aliasRes.Body.Close()

	if aliasRes.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(aliasRes.Body)
		return fmt.Errorf("failed to update write alias: %d - %s", aliasRes.StatusCode, string(bodyBytes))
	}
	return nil
}
