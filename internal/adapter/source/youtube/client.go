// Package youtube implements domain.SourceProvider against the YouTube Data
// API v3, using the official google.golang.org/api client family the way
// the pack's GCP-backed services (internal/clients/gcp in the neurobridge
// example) construct their clients, plus the quota-cost accounting shape
// from the YouTube quota tracker reference file.
package youtube

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/fairyhunter13/video-insight-pipeline/internal/domain"
)

// QuotaCosts mirrors the documented per-operation unit costs for the Data
// API endpoints this adapter calls. See
// https://developers.google.com/youtube/v3/determine_quota_cost.
var QuotaCosts = map[string]int{
	"channels.list":      1,
	"playlists.list":     1,
	"playlistItems.list": 1,
	"videos.list":        1,
}

// QuotaTracker accounts the daily unit cost consumed by this adapter,
// independent of the Quota Ledger's model-token accounting (that ledger
// tracks AI provider usage, not Data API units).
type QuotaTracker struct {
	used int
}

// Add records cost units for operation and returns the running total.
func (q *QuotaTracker) Add(operation string) int {
	cost, ok := QuotaCosts[operation]
	if !ok {
		cost = 1
	}
	q.used += cost
	return q.used
}

// Used reports the cumulative unit cost recorded so far.
func (q *QuotaTracker) Used() int { return q.used }

// Client implements domain.SourceProvider against the YouTube Data API.
type Client struct {
	svc   *yt.Service
	quota *QuotaTracker
}

// New constructs a Client authenticated with an API key, the standard
// unauthenticated-read credential for public channel/video listing.
func New(ctx context.Context, apiKey string) (*Client, error) {
	svc, err := yt.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("youtube.New: %w", err)
	}
	return &Client{svc: svc, quota: &QuotaTracker{}}, nil
}

// ResolveUploadsCollection resolves a channel's canonical "uploads"
// playlist id from its external channel id (spec.md §4.E.1).
func (c *Client) ResolveUploadsCollection(ctx domain.Context, channelExternalID string) (string, error) {
	c.quota.Add("channels.list")
	call := c.svc.Channels.List([]string{"contentDetails"}).Id(channelExternalID).Context(ctx)
	resp, err := call.Do()
	if err != nil {
		return "", fmt.Errorf("youtube.ResolveUploadsCollection: %w", err)
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("youtube.ResolveUploadsCollection: %w: channel %s", domain.ErrNotFound, channelExternalID)
	}
	uploads := resp.Items[0].ContentDetails.RelatedPlaylists.Uploads
	if uploads == "" {
		return "", fmt.Errorf("youtube.ResolveUploadsCollection: %w: no uploads playlist for %s", domain.ErrNotFound, channelExternalID)
	}
	return uploads, nil
}

// ListRecentItems lists up to limit items from an uploads playlist, newest
// first, paginating via pageToken.
func (c *Client) ListRecentItems(ctx domain.Context, uploadCollectionID string, limit int, pageToken string) ([]domain.SourceItem, string, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50 // Data API page size ceiling
	}
	c.quota.Add("playlistItems.list")
	call := c.svc.PlaylistItems.List([]string{"contentDetails"}).PlaylistId(uploadCollectionID).MaxResults(int64(limit)).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, "", fmt.Errorf("youtube.ListRecentItems: %w", err)
	}

	ids := make([]string, 0, len(resp.Items))
	for _, it := range resp.Items {
		ids = append(ids, it.ContentDetails.VideoId)
	}
	items, err := c.GetItemDetails(ctx, ids)
	if err != nil {
		return nil, "", err
	}
	return items, resp.NextPageToken, nil
}

// GetItemDetails fetches authoritative snippet/statistics/contentDetails for
// a batch of video ids (spec.md §6).
func (c *Client) GetItemDetails(ctx domain.Context, ids []string) ([]domain.SourceItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	c.quota.Add("videos.list")
	call := c.svc.Videos.List([]string{"snippet", "contentDetails", "statistics"}).Id(ids...).Context(ctx)
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("youtube.GetItemDetails: %w", err)
	}

	out := make([]domain.SourceItem, 0, len(resp.Items))
	for _, v := range resp.Items {
		item := domain.SourceItem{ID: v.Id}
		if v.Snippet != nil {
			item.Title = v.Snippet.Title
			item.Description = v.Snippet.Description
			item.ChannelTitle = v.Snippet.ChannelTitle
			if t, err := time.Parse(time.RFC3339, v.Snippet.PublishedAt); err == nil {
				item.PublishedAt = t
			}
			if v.Snippet.Thumbnails != nil {
				item.Thumbnail = bestThumbnail(v.Snippet.Thumbnails)
			}
		}
		if v.ContentDetails != nil {
			d, err := ParseISO8601Duration(v.ContentDetails.Duration)
			if err != nil {
				slog.Warn("youtube: unparseable duration, defaulting to 0", slog.String("video_id", v.Id), slog.String("raw", v.ContentDetails.Duration))
			} else {
				item.Duration = d.Seconds()
			}
		}
		if v.Statistics != nil {
			item.ViewCount = int64(v.Statistics.ViewCount)
			item.LikeCount = int64(v.Statistics.LikeCount)
			item.CommentCount = int64(v.Statistics.CommentCount)
		}
		out = append(out, item)
	}
	return out, nil
}

func bestThumbnail(t *yt.ThumbnailDetails) string {
	switch {
	case t.Maxres != nil:
		return t.Maxres.Url
	case t.High != nil:
		return t.High.Url
	case t.Medium != nil:
		return t.Medium.Url
	case t.Default != nil:
		return t.Default.Url
	default:
		return ""
	}
}

// iso8601Duration matches the standard PnDTnHnMnS subset YouTube emits
// (PT#H#M#S), per spec.md §6.
var iso8601Duration = regexp.MustCompile(`^P(?:(\d+)D)?T?(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?$`)

// ParseISO8601Duration parses a YouTube contentDetails.duration string
// (the standard PT#H#M#S form) into a time.Duration.
func ParseISO8601Duration(s string) (time.Duration, error) {
	m := iso8601Duration.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("youtube: invalid ISO-8601 duration %q", s)
	}
	var total time.Duration
	if m[1] != "" {
		days, _ := strconv.Atoi(m[1])
		total += time.Duration(days) * 24 * time.Hour
	}
	if m[2] != "" {
		hours, _ := strconv.Atoi(m[2])
		total += time.Duration(hours) * time.Hour
	}
	if m[3] != "" {
		mins, _ := strconv.Atoi(m[3])
		total += time.Duration(mins) * time.Minute
	}
	if m[4] != "" {
		secs, _ := strconv.ParseFloat(m[4], 64)
		total += time.Duration(secs * float64(time.Second))
	}
	return total, nil
}

var _ domain.SourceProvider = (*Client)(nil)
