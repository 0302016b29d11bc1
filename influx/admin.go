package influx

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/domain"
)

// defaultRetention is applied to buckets created without an explicit
// retention option.
const defaultRetention = "30d"

// bucketOptions collects per-call bucket creation settings.
type bucketOptions struct {
	retention string
}

// BucketOption customises bucket creation.
type BucketOption func(*bucketOptions)

// WithRetention sets the bucket's retention duration. The string may
// combine day/hour/minute/second components, e.g. "30d", "1d 12h", "90m".
func WithRetention(retention string) BucketOption {
	return func(o *bucketOptions) {
		o.retention = retention
	}
}

// CreateBucket creates a bucket in the client's organization.
//
// This is a passthrough to the SDK's bucket-management API. Server-side
// rejection (duplicate name, insufficient permission) wraps
// ErrAdminFailed.
func (c *Client) CreateBucket(ctx context.Context, name string, opts ...BucketOption) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	options := bucketOptions{retention: defaultRetention}
	for _, opt := range opts {
		opt(&options)
	}

	retention, err := ParseRetention(options.retention)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAdminFailed, err)
	}

	org, err := c.organization(ctx)
	if err != nil {
		return err
	}

	ruleType := domain.RetentionRuleTypeExpire
	rule := domain.RetentionRule{
		Type:         &ruleType,
		EverySeconds: int64(retention / time.Second),
	}
	if _, err := c.client.BucketsAPI().CreateBucketWithName(ctx, org, name, rule); err != nil {
		return fmt.Errorf("%w: creating bucket %q: %w", ErrAdminFailed, name, err)
	}

	return nil
}

// EnsureBucket creates a bucket if it does not already exist.
// An existing bucket of the same name is not an error.
func (c *Client) EnsureBucket(ctx context.Context, name string, opts ...BucketOption) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if bucket, err := c.client.BucketsAPI().FindBucketByName(ctx, name); err == nil && bucket != nil {
		return nil
	}

	createErr := c.CreateBucket(ctx, name, opts...)
	if createErr == nil {
		return nil
	}

	// Lost a create race, or the lookup failed transiently: a second
	// lookup decides whether the bucket is actually there.
	if bucket, err := c.client.BucketsAPI().FindBucketByName(ctx, name); err == nil && bucket != nil {
		return nil
	}
	return createErr
}

// UpdateBucketRetention changes the retention duration of an existing
// bucket. Failures wrap ErrAdminFailed.
func (c *Client) UpdateBucketRetention(ctx context.Context, name string, retention string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	duration, err := ParseRetention(retention)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAdminFailed, err)
	}

	bucket, err := c.client.BucketsAPI().FindBucketByName(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: finding bucket %q: %w", ErrAdminFailed, name, err)
	}

	ruleType := domain.RetentionRuleTypeExpire
	bucket.RetentionRules = domain.RetentionRules{
		{
			Type:         &ruleType,
			EverySeconds: int64(duration / time.Second),
		},
	}
	if _, err := c.client.BucketsAPI().UpdateBucket(ctx, bucket); err != nil {
		return fmt.Errorf("%w: updating bucket %q: %w", ErrAdminFailed, name, err)
	}

	return nil
}

// Buckets lists the names of all buckets visible to the client's token.
func (c *Client) Buckets(ctx context.Context) ([]string, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	buckets, err := c.client.BucketsAPI().GetBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing buckets: %w", ErrAdminFailed, err)
	}
	if buckets == nil {
		return nil, nil
	}

	names := make([]string, 0, len(*buckets))
	for _, bucket := range *buckets {
		names = append(names, bucket.Name)
	}
	return names, nil
}

// organization resolves the configured org name to its API object.
func (c *Client) organization(ctx context.Context) (*domain.Organization, error) {
	org, err := c.client.OrganizationsAPI().FindOrganizationByName(ctx, c.cfg.Org)
	if err != nil {
		return nil, fmt.Errorf("%w: looking up org %q: %w", ErrAdminFailed, c.cfg.Org, err)
	}
	return org, nil
}

// retentionPattern matches duration components like "30d", "12h", "90m", "45s".
var retentionPattern = regexp.MustCompile(`(\d+)([dhms])`)

// retentionUnits maps duration component units to seconds.
var retentionUnits = map[string]int64{
	"d": 24 * 60 * 60,
	"h": 60 * 60,
	"m": 60,
	"s": 1,
}

// ParseRetention converts a retention string to a duration.
//
// The string can contain multiple components, optionally separated by
// spaces, each a number followed by a unit: 'd' (days), 'h' (hours),
// 'm' (minutes) or 's' (seconds).
//
// Examples:
//
//	ParseRetention("30d")        // 30 days
//	ParseRetention("1d 12h")     // 36 hours
//	ParseRetention("1h30m")      // 90 minutes
func ParseRetention(retention string) (time.Duration, error) {
	matches := retentionPattern.FindAllStringSubmatch(retention, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("invalid retention duration %q", retention)
	}

	var totalSeconds int64
	for _, match := range matches {
		value, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid retention duration %q: %w", retention, err)
		}
		totalSeconds += value * retentionUnits[match[2]]
	}

	return time.Duration(totalSeconds) * time.Second, nil
}
