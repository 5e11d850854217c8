package quillclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/anyproto/any-sync/app"
	"golang.org/x/sync/errgroup"

	"github.com/quillpub/quill-server/quillclient/quillapi"
)

const CName = "quill.client"

var ErrUnauthorized = errors.New("unauthorized")

func New() Client {
	return new(quillClient)
}

type Client interface {
	app.Component
	InitDraft(ctx context.Context, req quillapi.InitDraftRequest) (content quillapi.Content, err error)
	// InitDraftWithCover uploads the draft metadata together with a cover image or video.
	InitDraftWithCover(ctx context.Context, req quillapi.InitDraftRequest, coverName string, cover io.Reader) (content quillapi.Content, err error)
	// UpdateDraft replaces title and description of a draft, the cover is kept.
	UpdateDraft(ctx context.Context, contentId string, req quillapi.InitDraftRequest) (content quillapi.Content, err error)
	PutChunk(ctx context.Context, contentId string, index int, text string) (chunk quillapi.Chunk, err error)
	// UploadText splits text into chunks and uploads them concurrently. It
	// returns the number of chunks to pass to Finalize.
	UploadText(ctx context.Context, contentId, text string) (chunks int, err error)
	Finalize(ctx context.Context, contentId string, totalChunks int) (content quillapi.Content, err error)
	GetContent(ctx context.Context, contentId string) (content quillapi.Content, err error)
	ListDrafts(ctx context.Context) (drafts []quillapi.Content, err error)
	GetChunks(ctx context.Context, contentId string, page, size int) (chunks []quillapi.Chunk, err error)
	// ReadText pages through all chunks and joins them.
	ReadText(ctx context.Context, contentId string) (text string, err error)
	ClearContent(ctx context.Context, contentId string) (err error)
	Delete(ctx context.Context, contentId string) (err error)
	History(ctx context.Context, page, size int) (notifications []quillapi.Notification, err error)
	CountUnread(ctx context.Context) (count int64, err error)
	MarkRead(ctx context.Context, notificationId string) (notification quillapi.Notification, err error)
	// Subscribe streams notifications to f until ctx is done or the server closes the stream.
	Subscribe(ctx context.Context, f func(n quillapi.Notification)) (err error)
}

type quillClient struct {
	conf   Config
	client *http.Client
}

func (c *quillClient) Init(a *app.App) (err error) {
	c.conf = a.MustComponent("config").(configGetter).GetQuillServer().withDefaults()
	if c.conf.Url == "" {
		return fmt.Errorf("quill server url is empty")
	}
	c.conf.Url = strings.TrimSuffix(c.conf.Url, "/")
	c.client = &http.Client{}
	return
}

func (c *quillClient) Name() (name string) {
	return CName
}

func (c *quillClient) InitDraft(ctx context.Context, req quillapi.InitDraftRequest) (content quillapi.Content, err error) {
	err = c.doJSON(ctx, http.MethodPost, "/api/content", req, &content)
	return
}

func (c *quillClient) InitDraftWithCover(ctx context.Context, req quillapi.InitDraftRequest, coverName string, cover io.Reader) (content quillapi.Content, err error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := mw.WriteField("title", req.Title); err != nil {
				return err
			}
			if err := mw.WriteField("description", req.Description); err != nil {
				return err
			}
			fw, err := mw.CreateFormFile("media", coverName)
			if err != nil {
				return err
			}
			if _, err = io.Copy(fw, cover); err != nil {
				return err
			}
			return mw.Close()
		}()
		_ = pw.CloseWithError(err)
	}()
	r, err := c.newRequest(ctx, http.MethodPost, "/api/content", pr)
	if err != nil {
		return
	}
	r.Header.Set("Content-Type", mw.FormDataContentType())
	err = c.do(r, &content)
	return
}

func (c *quillClient) UpdateDraft(ctx context.Context, contentId string, req quillapi.InitDraftRequest) (content quillapi.Content, err error) {
	err = c.doJSON(ctx, http.MethodPatch, "/api/content/"+url.PathEscape(contentId), req, &content)
	return
}

func (c *quillClient) PutChunk(ctx context.Context, contentId string, index int, text string) (chunk quillapi.Chunk, err error) {
	req := quillapi.PutChunkRequest{Index: &index, Content: &text}
	err = c.doJSON(ctx, http.MethodPost, "/api/content/"+url.PathEscape(contentId)+"/chunks", req, &chunk)
	return
}

func (c *quillClient) UploadText(ctx context.Context, contentId, text string) (chunks int, err error) {
	parts := splitText(text, c.conf.ChunkSize)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.conf.Parallel)
	for i, part := range parts {
		g.Go(func() error {
			if _, err := c.PutChunk(gCtx, contentId, i, part); err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return 0, err
	}
	return len(parts), nil
}

func (c *quillClient) Finalize(ctx context.Context, contentId string, totalChunks int) (content quillapi.Content, err error) {
	path := "/api/content/" + url.PathEscape(contentId) + "/finalize?totalChunks=" + strconv.Itoa(totalChunks)
	err = c.doJSON(ctx, http.MethodPost, path, nil, &content)
	return
}

func (c *quillClient) GetContent(ctx context.Context, contentId string) (content quillapi.Content, err error) {
	err = c.doJSON(ctx, http.MethodGet, "/api/content/"+url.PathEscape(contentId), nil, &content)
	return
}

func (c *quillClient) ListDrafts(ctx context.Context) (drafts []quillapi.Content, err error) {
	err = c.doJSON(ctx, http.MethodGet, "/api/content/drafts", nil, &drafts)
	return
}

func (c *quillClient) GetChunks(ctx context.Context, contentId string, page, size int) (chunks []quillapi.Chunk, err error) {
	path := fmt.Sprintf("/api/content/%s/chunks?page=%d&size=%d", url.PathEscape(contentId), page, size)
	err = c.doJSON(ctx, http.MethodGet, path, nil, &chunks)
	return
}

func (c *quillClient) ReadText(ctx context.Context, contentId string) (text string, err error) {
	const pageSize = 100
	var sb strings.Builder
	for page := 0; ; page++ {
		chunks, err := c.GetChunks(ctx, contentId, page, pageSize)
		if err != nil {
			return "", err
		}
		for _, chunk := range chunks {
			sb.WriteString(chunk.Content)
			if chunk.IsLast {
				return sb.String(), nil
			}
		}
		if len(chunks) < pageSize {
			return sb.String(), nil
		}
	}
}

func (c *quillClient) ClearContent(ctx context.Context, contentId string) (err error) {
	return c.doJSON(ctx, http.MethodDelete, "/api/content/"+url.PathEscape(contentId)+"/chunks", nil, nil)
}

func (c *quillClient) Delete(ctx context.Context, contentId string) (err error) {
	return c.doJSON(ctx, http.MethodDelete, "/api/content/"+url.PathEscape(contentId), nil, nil)
}

func (c *quillClient) History(ctx context.Context, page, size int) (notifications []quillapi.Notification, err error) {
	err = c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/notifications?page=%d&size=%d", page, size), nil, &notifications)
	return
}

func (c *quillClient) CountUnread(ctx context.Context) (count int64, err error) {
	var resp quillapi.UnreadCount
	if err = c.doJSON(ctx, http.MethodGet, "/api/notifications/unread", nil, &resp); err != nil {
		return
	}
	return resp.Count, nil
}

func (c *quillClient) MarkRead(ctx context.Context, notificationId string) (notification quillapi.Notification, err error) {
	err = c.doJSON(ctx, http.MethodPatch, "/api/notifications/"+url.PathEscape(notificationId)+"/read", nil, &notification)
	return
}

func (c *quillClient) Subscribe(ctx context.Context, f func(n quillapi.Notification)) (err error) {
	r, err := c.newRequest(ctx, http.MethodGet, "/api/notifications/subscribe", nil)
	if err != nil {
		return
	}
	r.Header.Set("Accept", "text/event-stream")
	resp, err := c.client.Do(r)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readErr(resp)
	}
	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == "notification":
			var n quillapi.Notification
			if err = json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &n); err != nil {
				return fmt.Errorf("decode notification: %w", err)
			}
			f(n)
		}
	}
	if err = scanner.Err(); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return
}

func (c *quillClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	r, err := http.NewRequestWithContext(ctx, method, c.conf.Url+path, body)
	if err != nil {
		return nil, err
	}
	if c.conf.Token != "" {
		r.Header.Set("Authorization", "Bearer "+c.conf.Token)
	}
	return r, nil
}

func (c *quillClient) doJSON(ctx context.Context, method, path string, req, res any) error {
	var body io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	r, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if req != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	return c.do(r, res)
}

func (c *quillClient) do(r *http.Request, res any) error {
	resp, err := c.client.Do(r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readErr(resp)
	}
	if res == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(res)
}

// readErr maps an error response back to the api sentinels.
func readErr(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var apiErr quillapi.Error
	if err := json.Unmarshal(data, &apiErr); err != nil || apiErr.Code == 0 {
		return fmt.Errorf("%w: status %d: %s", quillapi.ErrUnexpected, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if apiErr.Code == quillapi.ErrCodeFailedPrecondition && apiErr.Expected != nil && apiErr.Actual != nil {
		return &quillapi.ChunkCountError{Expected: *apiErr.Expected, Actual: *apiErr.Actual}
	}
	sentinel := quillapi.FromCode(apiErr.Code)
	if apiErr.Error == sentinel.Error() {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, strings.TrimPrefix(apiErr.Error, sentinel.Error()+": "))
}

// splitText cuts text into parts of at most size characters. Empty text is a
// single empty part, content always has at least one chunk.
func splitText(text string, size int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return []string{""}
	}
	parts := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		parts = append(parts, string(runes[start:min(start+size, len(runes))]))
	}
	return parts
}
