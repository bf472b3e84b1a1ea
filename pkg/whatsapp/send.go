package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/forPelevin/gomoji"
	"github.com/rivo/uniseg"
	"github.com/sunshineplan/imgconv"
	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
)

// SendMessage sends plain text to a destination (full JID or phone
// number). It returns the locally generated message ID, which is also
// recorded so the inbound echo of this message is dropped.
func (c *Client) SendMessage(ctx context.Context, destination string, text string) (string, error) {
	wa := c.socket()
	if wa == nil || !wa.IsConnected() {
		return "", ErrNotConnected
	}
	to, err := parseDestination(destination)
	if err != nil {
		return "", err
	}

	id := wa.GenerateMessageID()
	content := &waE2E.Message{
		Conversation: proto.String(text),
	}
	if _, err := wa.SendMessage(ctx, to, content, whatsmeow.SendRequestExtra{ID: id}); err != nil {
		return "", err
	}
	c.echo.record(id)
	return id, nil
}

// SendImage uploads and sends an image with an optional caption. A small
// JPEG thumbnail is generated for the chat preview.
func (c *Client) SendImage(ctx context.Context, destination string, image []byte, mimeType string, caption string) (string, error) {
	wa := c.socket()
	if wa == nil || !wa.IsConnected() {
		return "", ErrNotConnected
	}
	to, err := parseDestination(destination)
	if err != nil {
		return "", err
	}

	thumbnail, err := renderThumbnail(image)
	if err != nil {
		return "", err
	}
	uploaded, err := wa.Upload(ctx, image, whatsmeow.MediaImage)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}

	id := wa.GenerateMessageID()
	content := &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			Mimetype:      proto.String(mimeType),
			Caption:       proto.String(caption),
			FileLength:    proto.Uint64(uploaded.FileLength),
			FileSHA256:    uploaded.FileSHA256,
			FileEncSHA256: uploaded.FileEncSHA256,
			MediaKey:      uploaded.MediaKey,
			JPEGThumbnail: thumbnail,
		},
	}
	if _, err := wa.SendMessage(ctx, to, content, whatsmeow.SendRequestExtra{ID: id}); err != nil {
		return "", err
	}
	c.echo.record(id)
	return id, nil
}

// SendReaction reacts to a previously delivered message with a single
// emoji.
func (c *Client) SendReaction(ctx context.Context, destination string, messageID string, emoji string) error {
	wa := c.socket()
	if wa == nil || !wa.IsConnected() {
		return ErrNotConnected
	}
	to, err := parseDestination(destination)
	if err != nil {
		return err
	}
	if !gomoji.ContainsEmoji(emoji) && uniseg.GraphemeClusterCount(emoji) != 1 {
		return errors.New("reaction must be a single emoji")
	}

	content := &waE2E.Message{
		ReactionMessage: &waE2E.ReactionMessage{
			Key: &waCommon.MessageKey{
				FromMe:    proto.Bool(true),
				ID:        proto.String(messageID),
				RemoteJID: proto.String(to.String()),
			},
			Text:              proto.String(emoji),
			SenderTimestampMS: proto.Int64(time.Now().UnixMilli()),
		},
	}
	_, err = wa.SendMessage(ctx, to, content)
	return err
}

func renderThumbnail(image []byte) ([]byte, error) {
	decoded, err := imgconv.Decode(bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	out := new(bytes.Buffer)
	err = imgconv.Write(out,
		imgconv.Resize(decoded, &imgconv.ResizeOption{Width: 72}),
		&imgconv.FormatOption{Format: imgconv.JPEG})
	if err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return out.Bytes(), nil
}

// parseDestination accepts a full JID, a bare phone number, or a
// +-prefixed phone number. Long or dash-containing bare IDs are group
// identifiers.
func parseDestination(destination string) (types.JID, error) {
	if strings.ContainsRune(destination, '@') {
		jid, err := types.ParseJID(destination)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("parse destination %q: %w", destination, err)
		}
		return jid, nil
	}

	user := strings.TrimSpace(strings.TrimPrefix(destination, "+"))
	if user == "" {
		return types.EmptyJID, errors.New("empty destination")
	}
	if strings.ContainsRune(user, '-') || len(user) >= 18 {
		return types.NewJID(user, types.GroupServer), nil
	}
	return types.NewJID(user, types.DefaultUserServer), nil
}
