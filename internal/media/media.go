// Package media moves attachments between the remote server and local files.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/matheus3301/wppc/internal/remote"
)

// MaxUploadSize bounds files read by Encode.
const MaxUploadSize = 16 << 20

var ErrFileTooLarge = fmt.Errorf("file is larger than %s", humanize.IBytes(MaxUploadSize))

// Remote fetches attachments.
type Remote interface {
	MediaByMessage(ctx context.Context, messageID string) (remote.Media, error)
}

// Saved describes a downloaded attachment.
type Saved struct {
	Path     string
	Mimetype string
	Size     int64
}

// HumanSize formats Size for display.
func (s Saved) HumanSize() string { return humanize.IBytes(uint64(s.Size)) }

// Downloader writes attachments into a directory.
type Downloader struct {
	remote Remote
	dir    string
	logger *zap.Logger
}

// NewDownloader creates a Downloader saving into dir.
func NewDownloader(r Remote, dir string, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{remote: r, dir: dir, logger: logger}
}

// Save downloads the attachment of messageID. name is the suggested file
// name; when empty the message id is used. The extension follows the media
// type and existing files are never overwritten.
func (d *Downloader) Save(ctx context.Context, messageID, name string) (Saved, error) {
	m, err := d.remote.MediaByMessage(ctx, messageID)
	if err != nil {
		return Saved{}, fmt.Errorf("download media: %w", err)
	}
	data, err := decodeBase64(m.Base64)
	if err != nil {
		return Saved{}, fmt.Errorf("decode media: %w", err)
	}

	mt := m.Mimetype
	var ext string
	if known := mimetype.Lookup(baseType(mt)); known != nil {
		ext = known.Extension()
	} else {
		detected := mimetype.Detect(data)
		ext = detected.Extension()
		if mt == "" {
			mt = detected.String()
		}
	}

	if err := os.MkdirAll(d.dir, 0o700); err != nil {
		return Saved{}, err
	}
	path, err := d.create(fileName(messageID, name, ext), data)
	if err != nil {
		return Saved{}, err
	}
	saved := Saved{Path: path, Mimetype: mt, Size: int64(len(data))}
	d.logger.Info("media saved",
		zap.String("message", messageID),
		zap.String("path", path),
		zap.String("size", saved.HumanSize()),
	)
	return saved, nil
}

// create writes data under name, adding a counter when name is taken.
func (d *Downloader) create(name string, data []byte) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(d.dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", err
		}
		return path, f.Close()
	}
}

func fileName(messageID, name, ext string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = sanitize(messageID)
	}
	if ext != "" && !strings.EqualFold(filepath.Ext(name), ext) {
		name += ext
	}
	return name
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func baseType(mt string) string {
	t, _, _ := strings.Cut(mt, ";")
	return strings.TrimSpace(t)
}

// decodeBase64 accepts bare base64 and data URLs.
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if _, payload, ok := strings.Cut(s, ","); ok {
			s = payload
		}
	}
	return base64.StdEncoding.DecodeString(s)
}

// Encode reads the file at path into an attachment with a data URL body.
func Encode(path, caption string) (remote.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return remote.File{}, err
	}
	if info.IsDir() {
		return remote.File{}, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxUploadSize {
		return remote.File{}, ErrFileTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return remote.File{}, err
	}
	return remote.File{
		Name:    filepath.Base(path),
		Data:    DataURL(data),
		Caption: caption,
	}, nil
}

// DataURL wraps data in a base64 data URL typed from its content.
func DataURL(data []byte) string {
	mt := mimetype.Detect(data)
	return "data:" + baseType(mt.String()) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ErrNotAudio is returned by EncodeVoice for files that are not audio.
var ErrNotAudio = errors.New("voice notes must be audio files")

// EncodeVoice reads the audio file at path into a data URL for a voice note.
func EncodeVoice(path string) (string, error) {
	f, err := Encode(path, "")
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(f.Data, "data:audio/") && !strings.HasPrefix(f.Data, "data:application/ogg") {
		return "", ErrNotAudio
	}
	return f.Data, nil
}
