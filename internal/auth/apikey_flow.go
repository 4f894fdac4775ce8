package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"authcore.dev/internal/ids"
)

// CreateAPIKeyRequest describes a new API key.
type CreateAPIKeyRequest struct {
	Name      string
	Type      APIKeyType
	StartDate *time.Time
	EndDate   *time.Time
}

// IssuedAPIKey carries the raw secret. It is returned exactly once.
type IssuedAPIKey struct {
	Record *APIKeyRecord
	Key    string
	Secret string
}

// Header renders the value of the x-api-key header.
func (k IssuedAPIKey) Header() string { return k.Key + ":" + k.Secret }

// CreateAPIKey generates and stores a new key pair.
func (s *Service) CreateAPIKey(ctx context.Context, req CreateAPIKeyRequest) (IssuedAPIKey, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return IssuedAPIKey{}, invalidInput("api key name is required")
	}
	typ := req.Type
	if typ == "" {
		typ = APIKeyTypeDefault
	}
	if !typ.Valid() {
		return IssuedAPIKey{}, invalidInput("unknown api key type %q", typ)
	}
	if err := ValidateAPIKeyWindow(req.StartDate, req.EndDate); err != nil {
		return IssuedAPIKey{}, err
	}
	key, secret, err := CreateKeyPair()
	if err != nil {
		return IssuedAPIKey{}, unavailable("create api key", err)
	}
	now := s.now()
	rec := &APIKeyRecord{
		ID:         ids.New(),
		Name:       name,
		Key:        key,
		SecretHash: SignAPIKey(key, secret),
		Type:       typ,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := exec(ctx, s, "create api key", func(c context.Context) error {
		return s.store.APIKeys(c).Create(c, rec)
	}); err != nil {
		return IssuedAPIKey{}, err
	}
	s.emit(ctx, "auth.apikey.created", map[string]any{"api_key_id": rec.ID, "type": string(typ)})
	return IssuedAPIKey{Record: rec, Key: key, Secret: secret}, nil
}

// RotateAPIKeySecret replaces both halves of a key pair. The old pair stops
// verifying immediately.
func (s *Service) RotateAPIKeySecret(ctx context.Context, id string) (IssuedAPIKey, error) {
	rec, err := call(ctx, s, "find api key", func(c context.Context) (*APIKeyRecord, error) {
		return s.store.APIKeys(c).Find(c, id)
	})
	if err != nil {
		return IssuedAPIKey{}, err
	}
	key, secret, err := CreateKeyPair()
	if err != nil {
		return IssuedAPIKey{}, unavailable("create api key", err)
	}
	now := s.now()
	hash := SignAPIKey(key, secret)
	if err := exec(ctx, s, "rotate api key", func(c context.Context) error {
		return s.store.APIKeys(c).UpdateSecret(c, rec.ID, key, hash, now)
	}); err != nil {
		return IssuedAPIKey{}, err
	}
	rec.Key = key
	rec.SecretHash = hash
	rec.UpdatedAt = now
	s.emit(ctx, "auth.apikey.rotated", map[string]any{"api_key_id": rec.ID})
	return IssuedAPIKey{Record: rec, Key: key, Secret: secret}, nil
}

// SetAPIKeyActive enables or disables a key.
func (s *Service) SetAPIKeyActive(ctx context.Context, id string, active bool) error {
	if err := exec(ctx, s, "update api key", func(c context.Context) error {
		return s.store.APIKeys(c).SetActive(c, id, active, s.now())
	}); err != nil {
		return err
	}
	s.emit(ctx, "auth.apikey.active_changed", map[string]any{"api_key_id": id, "active": active})
	return nil
}

// AuthenticateAPIKey verifies an "x-api-key" header value.
func (s *Service) AuthenticateAPIKey(ctx context.Context, header string) (*APIKeyRecord, error) {
	key, secret, ok := ExtractAPIKey(header)
	if !ok {
		return nil, s.rejectAPIKey(ctx, "", ErrAPIKeyNotFound)
	}
	rec, err := call(ctx, s, "find api key", func(c context.Context) (*APIKeyRecord, error) {
		return s.store.APIKeys(c).FindByKey(c, key)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, s.rejectAPIKey(ctx, "", ErrAPIKeyNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := VerifyAPIKey(key, secret, rec, s.now()); err != nil {
		return nil, s.rejectAPIKey(ctx, rec.ID, err)
	}
	return rec, nil
}

func (s *Service) rejectAPIKey(ctx context.Context, id string, err error) error {
	reason := ReasonOf(err)
	s.observer.ObserveAPIKeyRejection(string(reason))
	if reason == ReasonSignatureMismatch {
		s.logger.WarnContext(ctx, "api key signature mismatch", slog.String("api_key_id", id))
		s.emit(ctx, "auth.apikey.signature_mismatch", map[string]any{"api_key_id": id})
	}
	return err
}
