package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotificationId(t *testing.T) {
	id := NotificationId("c1", "u1")
	assert.Equal(t, id, NotificationId("c1", "u1"))
	assert.NotEqual(t, id, NotificationId("c1", "u2"))
	assert.NotEqual(t, id, NotificationId("c2", "u1"))
}

func TestContentStatus_String(t *testing.T) {
	assert.Equal(t, "draft", ContentStatusDraft.String())
	assert.Equal(t, "published", ContentStatusPublished.String())
	assert.Equal(t, "archived", ContentStatusArchived.String())
}

func TestNotification_Api(t *testing.T) {
	n := Notification{
		Id:               NotificationId("c1", "u1"),
		ReceiverId:       "u1",
		ContentId:        "c1",
		ContentTitle:     "Title",
		AuthorName:       "Alice",
		Message:          "Alice published: Title",
		CreatedTimestamp: 42,
	}
	res := n.Api()
	assert.Equal(t, n.Id, res.Id)
	assert.Equal(t, n.Message, res.Message)
	assert.Equal(t, int64(42), res.CreatedTimestamp)
	assert.False(t, res.Read)
	if assert.NotNil(t, res.Content) {
		assert.Equal(t, "c1", res.Content.Id)
		assert.Equal(t, "Title", res.Content.Title)
		assert.Equal(t, "Alice", res.Content.AuthorName)
	}
}
