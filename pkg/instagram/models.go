package instagram

// SavedPostsResponse is the GraphQL response for a page of saved
// posts
type SavedPostsResponse struct {
	Data            SavedData `json:"data"`
	Status          string    `json:"status"`
	RequiresToLogin bool      `json:"requires_to_login"`
}

// SavedData contains the user wrapper
type SavedData struct {
	User SavedUser `json:"user"`
}

// SavedUser holds the saved-media connection
type SavedUser struct {
	EdgeSavedMedia EdgeSavedMedia `json:"edge_saved_media"`
}

// EdgeSavedMedia is the paginated collection of saved posts
type EdgeSavedMedia struct {
	Count    int      `json:"count"`
	PageInfo PageInfo `json:"page_info"`
	Edges    []Edge   `json:"edges"`
}

// PageInfo carries the GraphQL pagination cursor
type PageInfo struct {
	HasNextPage bool   `json:"has_next_page"`
	EndCursor   string `json:"end_cursor"`
}

// Edge wraps a single post node
type Edge struct {
	Node Node `json:"node"`
}

// Node is one saved post
type Node struct {
	ID                   string       `json:"id"`
	Typename             string       `json:"__typename"`
	Shortcode            string       `json:"shortcode"`
	DisplayURL           string       `json:"display_url"`
	VideoURL             string       `json:"video_url"`
	IsVideo              bool         `json:"is_video"`
	TakenAtTimestamp     int64        `json:"taken_at_timestamp"`
	Owner                Owner        `json:"owner"`
	EdgeMediaToCaption   CaptionEdges `json:"edge_media_to_caption"`
	EdgeMediaPreviewLike EdgeCount    `json:"edge_media_preview_like"`
	EdgeMediaToComment   EdgeCount    `json:"edge_media_to_comment"`
}

// Owner is the account that posted the media
type Owner struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// CaptionEdges wraps the caption text
type CaptionEdges struct {
	Edges []CaptionEdge `json:"edges"`
}

// CaptionEdge is one caption entry
type CaptionEdge struct {
	Node CaptionNode `json:"node"`
}

// CaptionNode holds the caption text
type CaptionNode struct {
	Text string `json:"text"`
}

// EdgeCount is a bare engagement counter
type EdgeCount struct {
	Count int64 `json:"count"`
}

// Caption returns the post's caption text, empty when the post has
// none
func (n *Node) Caption() string {
	if len(n.EdgeMediaToCaption.Edges) == 0 {
		return ""
	}
	return n.EdgeMediaToCaption.Edges[0].Node.Text
}

// LoginResponse is the login endpoint's JSON reply
type LoginResponse struct {
	Authenticated     bool          `json:"authenticated"`
	User              bool          `json:"user"`
	UserID            string        `json:"userId"`
	TwoFactorRequired bool          `json:"two_factor_required"`
	TwoFactorInfo     TwoFactorInfo `json:"two_factor_info"`
	Status            string        `json:"status"`
	Message           string        `json:"message"`
}

// TwoFactorInfo identifies a pending 2FA challenge
type TwoFactorInfo struct {
	TwoFactorIdentifier string `json:"two_factor_identifier"`
}

// CurrentUserResponse is the session check reply
type CurrentUserResponse struct {
	User   CurrentUser `json:"user"`
	Status string      `json:"status"`
}

// CurrentUser is the account a session belongs to
type CurrentUser struct {
	PK       int64  `json:"pk"`
	Username string `json:"username"`
}
