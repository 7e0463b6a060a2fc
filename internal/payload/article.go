package payload

import (
	"strings"
	"time"
)

// User is the public author profile embedded in article payloads.
type User struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	TwitterUsername string `json:"twitter_username,omitempty"`
	GithubUsername  string `json:"github_username,omitempty"`
	WebsiteURL      string `json:"website_url,omitempty"`
	ProfileImage    string `json:"profile_image,omitempty"`
	ProfileImage90  string `json:"profile_image_90,omitempty"`
}

// Article is the domain entity emitting article_* events.
type Article struct {
	ID                   int64      `json:"id"`
	UserID               int64      `json:"user_id"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Slug                 string     `json:"slug"`
	BodyMarkdown         string     `json:"body_markdown"`
	BodyHTML             string     `json:"body_html"`
	CanonicalURL         string     `json:"canonical_url"`
	CachedTagList        string     `json:"cached_tag_list"`
	CommentsCount        int        `json:"comments_count"`
	PublicReactionsCount int        `json:"public_reactions_count"`
	Published            bool       `json:"published"`
	PublishedAt          *time.Time `json:"published_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	EditedAt             *time.Time `json:"edited_at,omitempty"`
	CrosspostedAt        *time.Time `json:"crossposted_at,omitempty"`
	LastCommentAt        *time.Time `json:"last_comment_at,omitempty"`
	DeletedAt            *time.Time `json:"deleted_at,omitempty"`
	IsDestroyed          bool       `json:"destroyed"`
	User                 User       `json:"user"`

	decoration *articleDecoration
}

// articleDecoration holds the derived presentation fields.
type articleDecoration struct {
	readablePublishDate string
	path                string
	url                 string
	tagList             []string
}

// OwnerID is the author's user id; zero for a nil article.
func (a *Article) OwnerID() int64 {
	if a == nil {
		return 0
	}
	return a.UserID
}

func (a *Article) Destroyed() bool {
	return a != nil && (a.IsDestroyed || a.DeletedAt != nil)
}

func (a *Article) subjectKind() string { return "article" }

// Decorated reports whether the presentation fields were already computed.
func (a *Article) Decorated() bool { return a.decoration != nil }

func (a *Article) decorate(site Site) {
	if a.decoration != nil {
		return
	}
	path := "/" + a.User.Username + "/" + a.Slug
	a.decoration = &articleDecoration{
		readablePublishDate: readableDate(a.PublishedAt, site.now()),
		path:                path,
		url:                 strings.TrimRight(site.BaseURL, "/") + path,
		tagList:             splitTags(a.CachedTagList),
	}
}

func (a *Article) fullPayload() map[string]any {
	d := a.decoration
	attrs := map[string]any{
		"title":                  a.Title,
		"description":            a.Description,
		"readable_publish_date":  d.readablePublishDate,
		"cached_tag_list":        a.CachedTagList,
		"tag_list":               d.tagList,
		"slug":                   a.Slug,
		"path":                   d.path,
		"url":                    d.url,
		"canonical_url":          canonical(a.CanonicalURL, d.url),
		"comments_count":         a.CommentsCount,
		"public_reactions_count": a.PublicReactionsCount,
		"created_at":             a.CreatedAt.UTC().Format(time.RFC3339),
		"edited_at":              timeOrNil(a.EditedAt),
		"crossposted_at":         timeOrNil(a.CrosspostedAt),
		"published_at":           timeOrNil(a.PublishedAt),
		"last_comment_at":        timeOrNil(a.LastCommentAt),
		"published_timestamp":    timeOrEmpty(a.PublishedAt),
		"body_html":              a.BodyHTML,
		"body_markdown":          a.BodyMarkdown,
		"user": map[string]any{
			"name":             a.User.Name,
			"username":         a.User.Username,
			"twitter_username": nilIfEmpty(a.User.TwitterUsername),
			"github_username":  nilIfEmpty(a.User.GithubUsername),
			"website_url":      nilIfEmpty(a.User.WebsiteURL),
			"profile_image":    a.User.ProfileImage,
			"profile_image_90": a.User.ProfileImage90,
		},
	}
	return resource(a.ID, a.subjectKind(), attrs)
}

// destroyedPayload only carries identifying fields; the record may be gone.
func (a *Article) destroyedPayload() map[string]any {
	return resource(a.ID, a.subjectKind(), map[string]any{
		"title":        a.Title,
		"published_at": timeOrNil(a.PublishedAt),
	})
}

func readableDate(t *time.Time, now time.Time) string {
	if t == nil {
		return ""
	}
	if t.Year() == now.Year() {
		return t.Format("Jan 2")
	}
	return t.Format("Jan 2 '06")
}

func splitTags(cached string) []string {
	tags := []string{}
	for _, tag := range strings.Split(cached, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func canonical(canonicalURL, url string) string {
	if canonicalURL != "" {
		return canonicalURL
	}
	return url
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func timeOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
