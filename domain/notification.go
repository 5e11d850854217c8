package domain

import (
	"github.com/google/uuid"

	"github.com/quillpub/quill-server/quillclient/quillapi"
)

var notificationNamespace = uuid.MustParse("0b5bd7b5-3e27-4c43-a4a3-6f0a4cda71a2")

type Notification struct {
	Id               string `json:"id" bson:"_id"`
	ReceiverId       string `json:"receiverId" bson:"receiverId"`
	ContentId        string `json:"contentId" bson:"contentId"`
	ContentTitle     string `json:"contentTitle" bson:"contentTitle"`
	AuthorName       string `json:"authorName" bson:"authorName"`
	Message          string `json:"message" bson:"message"`
	Read             bool   `json:"read" bson:"read"`
	CreatedTimestamp int64  `json:"createdTimestamp" bson:"createdTimestamp"`
}

// NotificationId derives the id of the notification a publish event creates
// for a receiver. The same pair always yields the same id.
func NotificationId(contentId, receiverId string) string {
	return uuid.NewSHA1(notificationNamespace, []byte(contentId+"/"+receiverId)).String()
}

func (n Notification) Api() quillapi.Notification {
	return quillapi.Notification{
		Id:               n.Id,
		Message:          n.Message,
		Read:             n.Read,
		CreatedTimestamp: n.CreatedTimestamp,
		Content: &quillapi.ContentReference{
			Id:         n.ContentId,
			Title:      n.ContentTitle,
			AuthorName: n.AuthorName,
		},
	}
}
