package instagram

import (
	"context"
	"strconv"
	"time"

	errs "postvault/pkg/errors"
	"postvault/pkg/extractor"
	"postvault/pkg/media"
	"postvault/pkg/store"
)

// SavedPost adapts one saved node to the extraction loop's item shape
type SavedPost struct {
	node       Node
	mediaPaths []string
}

// NewSavedPost wraps a GraphQL node
func NewSavedPost(node Node) *SavedPost {
	return &SavedPost{node: node}
}

// Key returns the post shortcode
func (p *SavedPost) Key() string {
	return p.node.Shortcode
}

// TakenAt returns when the post was published
func (p *SavedPost) TakenAt() time.Time {
	if p.node.TakenAtTimestamp == 0 {
		return time.Time{}
	}
	return time.Unix(p.node.TakenAtTimestamp, 0).UTC()
}

// MediaRefs returns the post's downloadable file. Videos resolve to
// the video URL under the longer document timeout.
func (p *SavedPost) MediaRefs() []media.Ref {
	if p.node.IsVideo && p.node.VideoURL != "" {
		return []media.Ref{{URL: p.node.VideoURL, Kind: media.KindDocument}}
	}
	if p.node.DisplayURL != "" {
		return []media.Ref{{URL: p.node.DisplayURL, Kind: media.KindImage}}
	}
	return nil
}

// SetMediaPaths records resolved local paths for Record to pick up
func (p *SavedPost) SetMediaPaths(paths []string) {
	p.mediaPaths = paths
}

// Record builds the archive row for the post. When a local media path
// was resolved it replaces the remote URL.
func (p *SavedPost) Record() *store.Post {
	caption := p.node.Caption()

	mediaURL := p.node.DisplayURL
	if p.node.IsVideo && p.node.VideoURL != "" {
		mediaURL = p.node.VideoURL
	}
	if len(p.mediaPaths) > 0 {
		mediaURL = p.mediaPaths[0]
	}

	ownerID, _ := strconv.ParseInt(p.node.Owner.ID, 10, 64)

	return &store.Post{
		Shortcode:     p.node.Shortcode,
		OwnerUsername: p.node.Owner.Username,
		OwnerID:       ownerID,
		Caption:       caption,
		IsVideo:       p.node.IsVideo,
		MediaURL:      mediaURL,
		Typename:      p.node.Typename,
		Likes:         p.node.EdgeMediaPreviewLike.Count,
		Comments:      p.node.EdgeMediaToComment.Count,
		IsSaved:       true,
		CreatedAt:     p.TakenAt(),
		Hashtags:      ExtractHashtags(caption),
		Mentions:      ExtractMentions(caption),
	}
}

// SavedFeed pages the authenticated account's saved posts for the
// extraction loop
type SavedFeed struct {
	client   *Client
	pageSize int
	cursor   string
	total    int
	done     bool
}

// NewSavedFeed creates a feed starting at the newest saved post
func NewSavedFeed(client *Client, pageSize int) *SavedFeed {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &SavedFeed{
		client:   client,
		pageSize: pageSize,
	}
}

// Total returns the saved-post count Instagram reported, 0 before the
// first page arrives
func (f *SavedFeed) Total() int {
	return f.total
}

// NextPage fetches the next page of saved posts
func (f *SavedFeed) NextPage(ctx context.Context) ([]extractor.Item, error) {
	if f.done {
		return nil, extractor.ErrFeedExhausted
	}

	response, err := f.client.FetchSavedPosts(ctx, f.cursor, f.pageSize)
	if err != nil {
		return nil, err
	}

	savedMedia := response.Data.User.EdgeSavedMedia
	f.total = savedMedia.Count

	items := make([]extractor.Item, 0, len(savedMedia.Edges))
	for _, edge := range savedMedia.Edges {
		items = append(items, NewSavedPost(edge.Node))
	}

	if savedMedia.PageInfo.HasNextPage && savedMedia.PageInfo.EndCursor != "" {
		f.cursor = savedMedia.PageInfo.EndCursor
	} else {
		f.done = true
	}

	return items, nil
}

// StoreSink bridges the extraction loop's persistence calls to the
// post archive
type StoreSink struct {
	store *store.Store
}

// NewStoreSink wraps the archive for instagram runs
func NewStoreSink(s *store.Store) *StoreSink {
	return &StoreSink{store: s}
}

// FilterNew returns the shortcodes not yet archived
func (s *StoreSink) FilterNew(keys []string) ([]string, error) {
	return s.store.FilterNewPostCodes(keys)
}

// Exists reports whether a shortcode is already archived
func (s *StoreSink) Exists(key string) (bool, error) {
	existing, err := s.store.ExistingPostCodes([]string{key})
	if err != nil {
		return false, err
	}
	_, ok := existing[key]
	return ok, nil
}

// Persist upserts one saved post
func (s *StoreSink) Persist(ctx context.Context, item extractor.Item, force bool) (bool, error) {
	post, ok := item.(*SavedPost)
	if !ok {
		return false, errs.New(errs.ErrorTypeParsing, "item is not an instagram post")
	}

	_, created, err := s.store.UpsertPost(post.Record(), force)
	return created, err
}
