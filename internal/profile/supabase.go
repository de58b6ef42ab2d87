package profile

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/supabase-community/supabase-go"
)

// SupabaseConfig locates the profile object.
type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
	Key            string // object key, default profile.json
}

type bucket interface {
	upload(key string, data []byte) error
	download(key string) ([]byte, error)
}

// SupabaseStore keeps the profile as an object in a Supabase storage bucket.
type SupabaseStore struct {
	bucket bucket
	key    string
}

func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("profile: SUPABASE_URL, SUPABASE_SERVICE_ROLE_KEY and SUPABASE_BUCKET are required")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("profile: create supabase client: %w", err)
	}
	key := cfg.Key
	if key == "" {
		key = "profile.json"
	}
	return &SupabaseStore{bucket: &supabaseBucket{client: client, name: cfg.Bucket}, key: key}, nil
}

func (s *SupabaseStore) Load(_ context.Context) (Profile, error) {
	b, err := s.bucket.download(s.key)
	if err != nil {
		if isNotFound(err) {
			return Profile{}, nil
		}
		return Profile{}, fmt.Errorf("profile: download: %w", err)
	}
	return decode(b)
}

func (s *SupabaseStore) Save(_ context.Context, p Profile) error {
	b, err := encode(p)
	if err != nil {
		return err
	}
	if err := s.bucket.upload(s.key, b); err != nil {
		return fmt.Errorf("profile: upload: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404")
}

type supabaseBucket struct {
	client *supabase.Client
	name   string
}

// upload creates the object, falling back to an update when it already exists.
func (b *supabaseBucket) upload(key string, data []byte) error {
	_, err := b.client.Storage.UploadFile(b.name, key, bytes.NewReader(data))
	if err == nil {
		return nil
	}
	if _, uerr := b.client.Storage.UpdateFile(b.name, key, bytes.NewReader(data)); uerr != nil {
		return fmt.Errorf("failed to upload to Supabase: %w (update: %v)", err, uerr)
	}
	return nil
}

func (b *supabaseBucket) download(key string) ([]byte, error) {
	return b.client.Storage.DownloadFile(b.name, key)
}
