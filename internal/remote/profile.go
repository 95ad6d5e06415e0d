package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/matheus3301/wppc/internal/jid"
)

// SetProfileName changes the bound account's display name.
func (c *Client) SetProfileName(ctx context.Context, name string) error {
	_, err := callEnvelope[json.RawMessage](ctx, c, request{
		op:     "set profile name",
		method: http.MethodPost,
		path:   "/set-profile-name",
		body:   map[string]any{"name": name},
	})
	return err
}

// SetProfileStatus changes the bound account's about text.
func (c *Client) SetProfileStatus(ctx context.Context, status string) error {
	_, err := callEnvelope[json.RawMessage](ctx, c, request{
		op:     "set profile status",
		method: http.MethodPost,
		path:   "/set-profile-status",
		body:   map[string]any{"status": status},
	})
	return err
}

// SetProfilePicture uploads image as the account's picture.
func (c *Client) SetProfilePicture(ctx context.Context, filename string, image []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("set profile picture: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return fmt.Errorf("set profile picture: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("set profile picture: %w", err)
	}
	_, err = callEnvelope[json.RawMessage](ctx, c, request{
		op:          "set profile picture",
		method:      http.MethodPost,
		path:        "/set-profile-pic",
		body:        &buf,
		contentType: w.FormDataContentType(),
	})
	return err
}

type profilePic struct {
	ProfilePic string `json:"profilePic"`
	EURL       string `json:"eurl"`
	ImgFull    string `json:"imgFull"`
	Img        string `json:"img"`
}

// ProfilePicURL returns the picture URL of contactID, or of the bound
// account when contactID is empty. An empty URL means there is no picture.
func (c *Client) ProfilePicURL(ctx context.Context, contactID string) (string, error) {
	path := "/profile-pic"
	if contactID != "" {
		path += "/" + url.PathEscape(jid.Clean(contactID))
	}
	pic, err := callEnvelope[profilePic](ctx, c, request{
		op:     "profile picture",
		method: http.MethodGet,
		path:   path,
	})
	if IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	for _, u := range []string{pic.ProfilePic, pic.EURL, pic.ImgFull, pic.Img} {
		if u != "" {
			return u, nil
		}
	}
	return "", nil
}
