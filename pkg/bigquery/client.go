// Package bigquery wraps the BigQuery streaming client used by the analytics
// worker.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

const metadataCheckTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// TableSpec describes one destination table. PartitionField, when set,
// day-partitions a created table on that timestamp column.
type TableSpec struct {
	Name           string
	Schema         bigquery.Schema
	PartitionField string
}

type Client struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	tables  []TableSpec
	create  bool
	logg    *logger.Logger
}

// NewClient connects to the configured dataset and checks every table in
// specs, creating missing ones when cfg.CreateTables is set.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger, specs ...TableSpec) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	tables, err := normalizeSpecs(specs)
	if err != nil {
		return nil, err
	}

	bqClient, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	client := &Client{
		client:  bqClient,
		dataset: bqClient.Dataset(datasetID),
		tables:  tables,
		create:  cfg.CreateTables,
		logg:    logg,
	}
	if err := client.ensureTables(ctx); err != nil {
		_ = bqClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"dataset": datasetID, "tables": len(tables)}), "bigquery client initialized")
	}
	return client, nil
}

func normalizeSpecs(specs []TableSpec) ([]TableSpec, error) {
	if len(specs) == 0 {
		return nil, errTableNameRequired
	}
	out := make([]TableSpec, 0, len(specs))
	for _, spec := range specs {
		spec.Name = strings.TrimSpace(spec.Name)
		if spec.Name == "" {
			return nil, errTableNameRequired
		}
		out = append(out, spec)
	}
	return out, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

func (c *Client) ensureTables(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}

	for _, spec := range c.tables {
		_, err := c.dataset.Table(spec.Name).Metadata(ctx)
		switch {
		case err == nil:
		case isNotFound(err) && c.create:
			if err := c.createTable(ctx, spec); err != nil {
				return err
			}
		case isNotFound(err):
			return fmt.Errorf("table %q does not exist", spec.Name)
		default:
			return fmt.Errorf("checking table %q: %w", spec.Name, err)
		}
	}
	return nil
}

func (c *Client) createTable(ctx context.Context, spec TableSpec) error {
	if len(spec.Schema) == 0 {
		return fmt.Errorf("table %q has no schema to create it from", spec.Name)
	}
	meta := tableMetadata(spec)
	if err := c.dataset.Table(spec.Name).Create(ctx, meta); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return nil
		}
		return fmt.Errorf("creating table %q: %w", spec.Name, err)
	}
	if c.logg != nil {
		c.logg.Info(c.logg.WithField(ctx, "table", spec.Name), "created bigquery table")
	}
	return nil
}

func tableMetadata(spec TableSpec) *bigquery.TableMetadata {
	meta := &bigquery.TableMetadata{Schema: spec.Schema}
	if spec.PartitionField != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: spec.PartitionField,
		}
	}
	return meta
}

// Ping checks that the dataset and tables are still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errClientNotInitialized
	}
	return c.ensureTables(ctx)
}

// InsertRows streams rows into table.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
