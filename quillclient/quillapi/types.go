package quillapi

// Wire types shared by the http handlers and quillclient.

type Content struct {
	Id                 string `json:"id"`
	AuthorId           string `json:"authorId"`
	Title              string `json:"title"`
	Description        string `json:"description,omitempty"`
	CoverUrl           string `json:"coverUrl,omitempty"`
	CoverType          string `json:"coverType,omitempty"`
	Status             string `json:"status"`
	ChunkCount         int    `json:"chunkCount"`
	CreatedTimestamp   int64  `json:"createdTimestamp"`
	UpdatedTimestamp   int64  `json:"updatedTimestamp"`
	PublishedTimestamp int64  `json:"publishedTimestamp,omitempty"`
}

type InitDraftRequest struct {
	Title       string `json:"title" validate:"required,max=255"`
	Description string `json:"description" validate:"max=500"`
}

type PutChunkRequest struct {
	Index   *int    `json:"index" validate:"required,min=0"`
	Content *string `json:"content" validate:"required"`
}

type Chunk struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
	Hash    string `json:"hash"`
	IsLast  bool   `json:"isLast"`
}

type Notification struct {
	Id               string            `json:"id"`
	Message          string            `json:"message"`
	Read             bool              `json:"read"`
	CreatedTimestamp int64             `json:"createdTimestamp"`
	Content          *ContentReference `json:"content,omitempty"`
}

type ContentReference struct {
	Id         string `json:"id"`
	Title      string `json:"title,omitempty"`
	AuthorName string `json:"authorName,omitempty"`
}

type UnreadCount struct {
	Count int64 `json:"count"`
}

type Error struct {
	Error    string  `json:"error"`
	Code     ErrCode `json:"code"`
	Expected *int    `json:"expected,omitempty"`
	Actual   *int    `json:"actual,omitempty"`
}
