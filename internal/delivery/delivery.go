// The delivery channel boundary. The real chat transport lives outside this
// process; the manager only needs upload-once, send-to-many semantics.

package delivery

import (
	"context"
	"log"
)

// FileHandle is an opaque reference to an uploaded file, reusable across
// sends to multiple destinations.
type FileHandle interface{}

// Client is the delivery channel: upload a file once, then send the handle
// to any number of chats.
type Client interface {
	Upload(ctx context.Context, filePath string) (FileHandle, error)
	Send(ctx context.Context, chatID int64, file FileHandle, caption string) error
}

// LogClient is a stand-in Client that only logs deliveries. It keeps the
// manager runnable without a chat transport wired in.
type LogClient struct{}

func (LogClient) Upload(ctx context.Context, filePath string) (FileHandle, error) {
	return filePath, nil
}

func (LogClient) Send(ctx context.Context, chatID int64, file FileHandle, caption string) error {
	log.Printf("Delivery to chat %d: %v (%s)", chatID, file, caption)
	return nil
}
