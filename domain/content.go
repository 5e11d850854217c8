package domain

import "github.com/quillpub/quill-server/quillclient/quillapi"

type ContentStatus uint8

const (
	ContentStatusDraft ContentStatus = iota
	ContentStatusPublished
	ContentStatusArchived
)

func (s ContentStatus) String() string {
	switch s {
	case ContentStatusDraft:
		return "draft"
	case ContentStatusPublished:
		return "published"
	case ContentStatusArchived:
		return "archived"
	default:
		return "unknown"
	}
}

type ContentItem struct {
	Id                 string        `json:"id" bson:"_id"`
	AuthorId           string        `json:"authorId" bson:"authorId"`
	Title              string        `json:"title" bson:"title"`
	Description        string        `json:"description" bson:"description"`
	CoverUrl           string        `json:"coverUrl" bson:"coverUrl,omitempty"`
	CoverType          string        `json:"coverType" bson:"coverType,omitempty"`
	Status             ContentStatus `json:"status" bson:"status"`
	ChunkCount         int           `json:"chunkCount" bson:"chunkCount"`
	CreatedTimestamp   int64         `json:"createdTimestamp" bson:"createdTimestamp"`
	UpdatedTimestamp   int64         `json:"updatedTimestamp" bson:"updatedTimestamp"`
	PublishedTimestamp int64         `json:"publishedTimestamp" bson:"publishedTimestamp,omitempty"`
}

func (c ContentItem) IsDraft() bool {
	return c.Status == ContentStatusDraft
}

func (c ContentItem) Api() quillapi.Content {
	return quillapi.Content{
		Id:                 c.Id,
		AuthorId:           c.AuthorId,
		Title:              c.Title,
		Description:        c.Description,
		CoverUrl:           c.CoverUrl,
		CoverType:          c.CoverType,
		Status:             c.Status.String(),
		ChunkCount:         c.ChunkCount,
		CreatedTimestamp:   c.CreatedTimestamp,
		UpdatedTimestamp:   c.UpdatedTimestamp,
		PublishedTimestamp: c.PublishedTimestamp,
	}
}

// DraftMetadata describes a new draft. Cover is optional.
type DraftMetadata struct {
	Title       string `validate:"required,max=255"`
	Description string `validate:"max=500"`
	Cover       []byte
	CoverName   string
}

// DraftChanges replaces the editable fields of a draft. The cover is kept
// unless ReplaceCover is set.
type DraftChanges struct {
	Title        string
	Description  string
	CoverUrl     string
	CoverType    string
	ReplaceCover bool
}

func (c DraftChanges) Apply(item ContentItem) ContentItem {
	item.Title = c.Title
	item.Description = c.Description
	if c.ReplaceCover {
		item.CoverUrl = c.CoverUrl
		item.CoverType = c.CoverType
	}
	return item
}

type Chunk struct {
	ContentId string `json:"contentId" bson:"contentId"`
	Index     int    `json:"index" bson:"index"`
	Payload   string `json:"payload" bson:"-"`
	Hash      string `json:"hash" bson:"hash"`
	IsLast    bool   `json:"isLast" bson:"-"`
}

func (c Chunk) Api() quillapi.Chunk {
	return quillapi.Chunk{
		Index:   c.Index,
		Content: c.Payload,
		Hash:    c.Hash,
		IsLast:  c.IsLast,
	}
}
