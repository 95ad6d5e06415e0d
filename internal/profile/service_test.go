package profile

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppc/internal/bus"
	"github.com/matheus3301/wppc/internal/store"
	chatsync "github.com/matheus3301/wppc/internal/sync"
)

type fakeRemote struct {
	mu       sync.Mutex
	names    []string
	statuses []string
	upload   []byte
	filename string
	picURL   string
	picErr   error
	picDelay time.Duration
	lookups  atomic.Int32
}

func (f *fakeRemote) SetProfileName(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	return nil
}

func (f *fakeRemote) SetProfileStatus(_ context.Context, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeRemote) SetProfilePicture(_ context.Context, filename string, image []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filename, f.upload = filename, image
	return nil
}

func (f *fakeRemote) ProfilePicURL(context.Context, string) (string, error) {
	f.lookups.Add(1)
	time.Sleep(f.picDelay)
	return f.picURL, f.picErr
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newService(t *testing.T, r *fakeRemote) (*Service, *chatsync.State, *store.DB) {
	t.Helper()
	db := testDB(t)
	st := chatsync.NewState(bus.New())
	st.SetMe(chatsync.Contact{ID: "5511999990000@c.us", Name: "Me", IsMe: true})
	return NewService(r, db, st, zap.NewNop()), st, db
}

func TestUpdate(t *testing.T) {
	tests := []struct {
		name, newName, about string
		wantNames, wantAbout []string
	}{
		{"unchanged name", "Me", "", nil, nil},
		{"new name", "Someone", "", []string{"Someone"}, nil},
		{"about only", "Me", "busy", nil, []string{"busy"}},
		{"blank", "  ", " ", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRemote{}
			s, st, _ := newService(t, r)
			if err := s.Update(context.Background(), tt.newName, tt.about); err != nil {
				t.Fatal(err)
			}
			if len(r.names) != len(tt.wantNames) || len(r.statuses) != len(tt.wantAbout) {
				t.Fatalf("names=%v statuses=%v", r.names, r.statuses)
			}
			if len(tt.wantNames) > 0 && st.Snapshot().Me.Name != tt.wantNames[0] {
				t.Errorf("me = %+v", st.Snapshot().Me)
			}
		})
	}
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	path := filepath.Join(t.TempDir(), "me.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSetPictureResizesWideImages(t *testing.T) {
	for _, tc := range []struct {
		width, want int
	}{
		{1280, PictureWidth},
		{200, 200},
	} {
		r := &fakeRemote{}
		s, _, db := newService(t, r)
		_ = db.PutAvatar("5511999990000", "https://pps.example/old.jpg", time.Now())

		if err := s.SetPicture(context.Background(), writePNG(t, tc.width, tc.width/2)); err != nil {
			t.Fatal(err)
		}
		if r.filename != "me.jpg" {
			t.Errorf("filename = %q", r.filename)
		}
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(r.upload))
		if err != nil {
			t.Fatalf("upload is not a JPEG: %v", err)
		}
		if cfg.Width != tc.want {
			t.Errorf("width %d: uploaded %d, want %d", tc.width, cfg.Width, tc.want)
		}
		if u, _, _, _ := db.Avatar("5511999990000"); u != "" {
			t.Error("own avatar still cached after upload")
		}
	}
}

func TestSetPictureRejectsNonImages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("just text"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := &fakeRemote{}
	s, _, _ := newService(t, r)
	if err := s.SetPicture(context.Background(), path); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("err = %v", err)
	}
	if r.upload != nil {
		t.Error("uploaded a non-image")
	}
}

func TestAvatar(t *testing.T) {
	r := &fakeRemote{picURL: "https://pps.example/a.jpg"}
	s, _, _ := newService(t, r)
	ctx := context.Background()

	if got := s.Avatar(ctx, "5511988887777@c.us", "Ana"); got != r.picURL {
		t.Errorf("Avatar = %q", got)
	}
	if got := s.Avatar(ctx, "5511988887777@c.us", "Ana"); got != r.picURL {
		t.Errorf("cached Avatar = %q", got)
	}
	if n := r.lookups.Load(); n != 1 {
		t.Errorf("lookups = %d, want 1", n)
	}

	// Entries expire after a day.
	s.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	s.Avatar(ctx, "5511988887777@c.us", "Ana")
	if n := r.lookups.Load(); n != 2 {
		t.Errorf("lookups after expiry = %d, want 2", n)
	}
}

func TestAvatarFallbacks(t *testing.T) {
	r := &fakeRemote{picErr: errors.New("404")}
	s, _, _ := newService(t, r)
	ctx := context.Background()

	group := s.Avatar(ctx, "120363000000000001-1600000000@g.us", "Team")
	if !strings.Contains(group, "ui-avatars.com") || !strings.Contains(group, "name=Team") {
		t.Errorf("group avatar = %q", group)
	}
	if r.lookups.Load() != 0 {
		t.Error("non-numeric id was looked up")
	}
	if got := s.Avatar(ctx, "5511988887777@c.us", "Ana Maria"); got != DefaultAvatar("Ana Maria") {
		t.Errorf("failed lookup = %q", got)
	}
}

func TestAvatarCoalescesConcurrentLookups(t *testing.T) {
	r := &fakeRemote{picURL: "https://pps.example/a.jpg", picDelay: 20 * time.Millisecond}
	s, _, _ := newService(t, r)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Avatar(context.Background(), "5511988887777@c.us", "")
		}()
	}
	wg.Wait()
	if n := r.lookups.Load(); n != 1 {
		t.Errorf("lookups = %d, want 1", n)
	}
}
