// Package pubsub wraps the Pub/Sub v2 client used by the outbox publisher and
// the analytics consumer.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

const (
	kindTopic        = "topics"
	kindSubscription = "subscriptions"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNothingConfigured = errors.New("no pubsub topics or subscriptions configured")
)

// resource is one topic or subscription the process depends on.
type resource struct {
	kind string
	id   string
}

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	required  []resource
}

// NewClient dials Pub/Sub and verifies every configured topic and
// subscription exists, so a typo fails the deploy instead of the first publish.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	required := requiredResources(cfg)
	if len(required) == 0 {
		return nil, errNothingConfigured
	}

	psClient, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: psClient, projectID: projectID, cfg: cfg, required: required}
	if err := c.verify(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "resources", len(required)), "pubsub client initialized")
	}
	return c, nil
}

func requiredResources(cfg config.PubSubConfig) []resource {
	var out []resource
	add := func(kind, id string) {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, resource{kind: kind, id: id})
		}
	}
	add(kindTopic, cfg.EventsTopic)
	add(kindTopic, cfg.AnalyticsTopic)
	add(kindSubscription, cfg.AnalyticsSubscription)
	add(kindSubscription, cfg.EventsSubscription)
	return out
}

// verify looks up all required resources concurrently.
func (c *Client) verify(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, res := range c.required {
		g.Go(func() error { return c.lookup(gctx, res) })
	}
	return g.Wait()
}

func (c *Client) lookup(ctx context.Context, res resource) error {
	name := resourceName(c.projectID, res.kind, res.id)
	var err error
	switch res.kind {
	case kindTopic:
		_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	default:
		_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
	}
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", strings.TrimSuffix(res.kind, "s"), res.id)
	default:
		return fmt.Errorf("checking %s %q: %w", strings.TrimSuffix(res.kind, "s"), res.id, err)
	}
}

// Subscription returns a subscriber for a subscription ID or full resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	if full := resourceName(c.projectID, kindSubscription, name); full != "" {
		return c.client.Subscriber(full)
	}
	return nil
}

// AnalyticsSubscription feeds the BigQuery metrics export.
func (c *Client) AnalyticsSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.AnalyticsSubscription)
}

// EventsSubscription mirrors monitor lifecycle events into the runs table.
func (c *Client) EventsSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.EventsSubscription)
}

// Publisher returns a publisher for a topic ID or full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	if full := resourceName(c.projectID, kindTopic, name); full != "" {
		return c.client.Publisher(full)
	}
	return nil
}

// Ping re-runs the startup existence checks.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	return c.verify(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// resourceName qualifies id as projects/<project>/<kind>/<id>. Names that are
// already qualified for kind pass through unchanged.
func resourceName(projectID, kind, id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if strings.HasPrefix(id, "projects/") && strings.Contains(id, "/"+kind+"/") {
		return id
	}
	if projectID == "" {
		return ""
	}
	return "projects/" + projectID + "/" + kind + "/" + id
}
