// Package profile edits the signed-in account and resolves contact avatars.
package profile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sunshineplan/imgconv"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/matheus3301/wppc/internal/jid"
	chatsync "github.com/matheus3301/wppc/internal/sync"
)

const (
	// AvatarTTL is how long a resolved avatar URL is reused.
	AvatarTTL = 24 * time.Hour
	// PictureWidth is the width uploaded pictures are scaled down to.
	PictureWidth = 640
	// MaxPictureSize bounds the file accepted by SetPicture.
	MaxPictureSize = 5 << 20
)

var (
	ErrUnsupportedImage = errors.New("only JPEG, PNG, GIF and WebP images are accepted")
	ErrImageTooLarge    = errors.New("image must be smaller than 5MB")
)

var pictureTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// Remote is the part of the remote client profile operations use.
type Remote interface {
	SetProfileName(ctx context.Context, name string) error
	SetProfileStatus(ctx context.Context, status string) error
	SetProfilePicture(ctx context.Context, filename string, image []byte) error
	ProfilePicURL(ctx context.Context, contactID string) (string, error)
}

// AvatarCache stores resolved avatar URLs.
type AvatarCache interface {
	Avatar(contactID string) (url string, fetchedAt time.Time, ok bool, err error)
	PutAvatar(contactID, url string, at time.Time) error
}

// Account holds the signed-in account.
type Account interface {
	Snapshot() chatsync.Snapshot
	SetMe(me chatsync.Contact)
}

// Service implements the profile operations.
type Service struct {
	remote  Remote
	cache   AvatarCache
	account Account
	logger  *zap.Logger
	group   singleflight.Group
	now     func() time.Time
}

// NewService creates a Service.
func NewService(r Remote, cache AvatarCache, account Account, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{remote: r, cache: cache, account: account, logger: logger, now: time.Now}
}

// Update sets the display name when it differs from the current one and the
// about text when it is not empty.
func (s *Service) Update(ctx context.Context, name, about string) error {
	name, about = strings.TrimSpace(name), strings.TrimSpace(about)
	me := s.me()

	if name != "" && name != currentName(me) {
		if err := s.remote.SetProfileName(ctx, name); err != nil {
			return fmt.Errorf("set name: %w", err)
		}
		me.Name = name
		s.account.SetMe(me)
		s.logger.Info("profile name updated")
	}
	if about != "" {
		if err := s.remote.SetProfileStatus(ctx, about); err != nil {
			return fmt.Errorf("set about: %w", err)
		}
		s.logger.Info("profile status updated")
	}
	return nil
}

func (s *Service) me() chatsync.Contact {
	if me := s.account.Snapshot().Me; me != nil {
		return *me
	}
	return chatsync.Contact{IsMe: true}
}

func currentName(me chatsync.Contact) string {
	if me.Name != "" {
		return me.Name
	}
	return me.PushName
}

// SetPicture uploads the image at path as the account picture. Images wider
// than PictureWidth are scaled down; the upload is always JPEG.
func (s *Service) SetPicture(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("set picture: %w", err)
	}
	if info.Size() > MaxPictureSize {
		return ErrImageTooLarge
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("set picture: %w", err)
	}
	if !mimetype.EqualsAny(mt.String(), pictureTypes...) {
		return ErrUnsupportedImage
	}

	img, err := imgconv.Open(path)
	if err != nil {
		return fmt.Errorf("decode picture: %w", err)
	}
	if img.Bounds().Dx() > PictureWidth {
		img = imgconv.Resize(img, &imgconv.ResizeOption{Width: PictureWidth})
	}
	var buf bytes.Buffer
	if err := imgconv.Write(&buf, img, &imgconv.FormatOption{Format: imgconv.JPEG}); err != nil {
		return fmt.Errorf("encode picture: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".jpg"
	if err := s.remote.SetProfilePicture(ctx, name, buf.Bytes()); err != nil {
		return fmt.Errorf("upload picture: %w", err)
	}

	// Expire the cached avatar of the account so the next lookup refetches.
	if me := s.account.Snapshot().Me; me != nil {
		if err := s.cache.PutAvatar(jid.Clean(me.ID), "", time.Time{}); err != nil {
			s.logger.Warn("failed to expire own avatar", zap.Error(err))
		}
	}
	s.logger.Info("profile picture updated", zap.Int("bytes", buf.Len()))
	return nil
}

// Avatar returns the picture URL of contactID, falling back to a generated
// avatar for name. Only phone-number ids are looked up; results, fallbacks
// included, are cached for AvatarTTL. Concurrent lookups of one id share a
// single request.
func (s *Service) Avatar(ctx context.Context, contactID, name string) string {
	id := jid.Clean(contactID)
	if name == "" {
		name = id
	}
	fallback := DefaultAvatar(name)
	if !isPhoneNumber(id) {
		return fallback
	}

	if u, at, ok, err := s.cache.Avatar(id); err != nil {
		s.logger.Warn("avatar cache read failed", zap.String("contact", id), zap.Error(err))
	} else if ok && u != "" && s.now().Sub(at) < AvatarTTL {
		return u
	}

	v, _, _ := s.group.Do(id, func() (any, error) {
		u, err := s.remote.ProfilePicURL(ctx, id)
		if err != nil {
			s.logger.Debug("profile picture lookup failed", zap.String("contact", id), zap.Error(err))
		}
		if err != nil || u == "" {
			u = fallback
		}
		if err := s.cache.PutAvatar(id, u, s.now()); err != nil {
			s.logger.Warn("avatar cache write failed", zap.String("contact", id), zap.Error(err))
		}
		return u, nil
	})
	return v.(string)
}

// DefaultAvatar is the generated avatar URL for name.
func DefaultAvatar(name string) string {
	if name == "" {
		name = "User"
	}
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name) + "&background=00a884&color=fff&size=160"
}

func isPhoneNumber(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
