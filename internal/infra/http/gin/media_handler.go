package ginserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"chatgate/internal/app/envelope"
	domainchat "chatgate/internal/domain/chat"
)

const maxMediaSizeBytes = 10 << 20

// AttachmentUploader stores uploaded media for message bodies.
type AttachmentUploader interface {
	UploadAttachment(ctx context.Context, name string, reader io.Reader, size int64, contentType string) (domainchat.Attachment, error)
}

type MediaHandler struct {
	Uploader AttachmentUploader
	Logger   *slog.Logger
}

// Upload accepts a multipart "file" field and answers with an attachment envelope.
func (h MediaHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.respond(c, envelope.Failure(http.StatusBadRequest, "file is required"))
		return
	}
	if fileHeader.Size <= 0 {
		h.respond(c, envelope.Failure(http.StatusBadRequest, "file is empty"))
		return
	}
	if fileHeader.Size > maxMediaSizeBytes {
		h.respond(c, envelope.Failure(http.StatusBadRequest, fmt.Sprintf("file too large (max %d MB)", maxMediaSizeBytes>>20)))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		h.respond(c, envelope.Failure(http.StatusBadRequest, "cannot read file"))
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		h.respond(c, envelope.Failure(http.StatusBadRequest, "cannot read file"))
		return
	}
	head = head[:n]
	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(head)
	}
	body := io.MultiReader(bytes.NewReader(head), file)

	att, err := h.Uploader.UploadAttachment(c.Request.Context(), fileHeader.Filename, body, fileHeader.Size, contentType)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("media upload failed", "err", err, "request_id", c.GetString("request_id"))
		}
		h.respond(c, envelope.FromError(err))
		return
	}
	h.respond(c, envelope.Created("uploaded", att))
}

func (h MediaHandler) respond(c *gin.Context, env envelope.Envelope) {
	c.JSON(env.Code, env)
}

var _ MediaHTTP = MediaHandler{}
