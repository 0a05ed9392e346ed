package guesttoken

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dashgate-dev/dashgate/internal/client"
)

// Mode selects which guest token endpoint a dashboard view uses
type Mode string

const (
	ModeRLS  Mode = "rls"
	ModeFull Mode = "full"
)

// DefaultFullIdentity is sent as user_id in full mode when no session identity is available
const DefaultFullIdentity = "react_full_user_fallback"

// Credential is a guest token scoped to one (mode, identity) pair
type Credential struct {
	Token    string
	Mode     Mode
	Identity string
}

// Kind classifies a FetchError
type Kind string

const (
	KindMissingIdentity   Kind = "missing_identity"
	KindHTTP              Kind = "http"
	KindMalformedResponse Kind = "malformed_response"
	KindNetwork           Kind = "network"
	KindInvalidMode       Kind = "invalid_mode"
)

// FetchError is the only error type returned by Fetch
type FetchError struct {
	Kind       Kind
	Mode       Mode
	StatusCode int // set for KindHTTP
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("Error fetching guest token: %s.", e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// TokenSource is the part of the backend client the fetcher needs
type TokenSource interface {
	GuestTokenRLS(ctx context.Context, manufacturer string) (string, error)
	GuestTokenFull(ctx context.Context, userID string) (string, error)
}

var _ TokenSource = (*client.Client)(nil)

// Fetcher performs one guest token request per call and classifies failures
type Fetcher struct {
	source           TokenSource
	fallbackIdentity string
	logger           zerolog.Logger
}

// NewFetcher creates a fetcher. An empty fallbackIdentity uses DefaultFullIdentity.
func NewFetcher(source TokenSource, fallbackIdentity string, logger zerolog.Logger) *Fetcher {
	if fallbackIdentity == "" {
		fallbackIdentity = DefaultFullIdentity
	}
	return &Fetcher{
		source:           source,
		fallbackIdentity: fallbackIdentity,
		logger:           logger,
	}
}

// Fetch requests a guest token for (mode, identity). For ModeRLS the identity is the
// manufacturer and must be set; for ModeFull it is the session identifier.
func (f *Fetcher) Fetch(ctx context.Context, mode Mode, identity string) (Credential, error) {
	log := f.logger.With().Str("mode", string(mode)).Logger()

	var (
		token string
		err   error
	)

	switch mode {
	case ModeRLS:
		if identity == "" {
			return Credential{}, &FetchError{
				Kind:    KindMissingIdentity,
				Mode:    mode,
				Message: "Manufacturer name is missing in URL for RLS dashboard",
			}
		}
		log.Debug().Str("manufacturer", identity).Msg("Requesting RLS guest token")
		token, err = f.source.GuestTokenRLS(ctx, identity)

	case ModeFull:
		if identity == "" {
			identity = f.fallbackIdentity
		}
		log.Debug().Str("user_id", identity).Msg("Requesting full guest token")
		token, err = f.source.GuestTokenFull(ctx, identity)

	default:
		return Credential{}, &FetchError{
			Kind:    KindInvalidMode,
			Mode:    mode,
			Message: "Invalid dashboard mode specified",
		}
	}

	if err != nil {
		fetchErr := classify(mode, err)
		log.Error().Err(err).Str("kind", string(fetchErr.Kind)).Msg("Error fetching guest token")
		return Credential{}, fetchErr
	}

	log.Info().Msg("Guest token fetched successfully")
	return Credential{Token: token, Mode: mode, Identity: identity}, nil
}

func classify(mode Mode, err error) *FetchError {
	var statusErr *client.StatusError
	switch {
	case errors.As(err, &statusErr):
		message := statusErr.Detail
		if message == "" {
			message = fmt.Sprintf("Failed to fetch guest token (%d)", statusErr.StatusCode)
		}
		return &FetchError{Kind: KindHTTP, Mode: mode, StatusCode: statusErr.StatusCode, Message: message, Err: err}

	case errors.Is(err, client.ErrMalformedResponse):
		return &FetchError{Kind: KindMalformedResponse, Mode: mode, Message: "Token not found in response from backend", Err: err}

	default:
		// Transport failures and anything else that prevented a response
		return &FetchError{Kind: KindNetwork, Mode: mode, Message: err.Error(), Err: err}
	}
}
