package httpserver

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/observability"
	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

// Argon2Params defines parameters for Argon2id password hashing
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// DefaultArgon2Params are used for the admin password hash.
var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024, // 64 MB
	Iterations:  3,
	Parallelism: 2,
	SaltLen:     16,
	KeyLen:      32,
}

// HashPassword creates an Argon2id hash of the password in the form
// argon2id$iterations$memory$parallelism$salt$hash.
func HashPassword(password string, params Argon2Params) (string, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("op=httpserver.HashPassword: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLen)
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		params.Iterations,
		params.Memory,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword verifies a password against its Argon2id hash
func VerifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false
	}
	iters, err1 := parseUint32(parts[1])
	mem, err2 := parseUint32(parts[2])
	par32, err3 := parseUint32(parts[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false
	}
	par := uint8(math.MaxUint8)
	if par32 < math.MaxUint8 {
		par = uint8(par32)
	}
	actual := argon2.IDKey([]byte(password), salt, iters, mem, par, uint32(len(expected))) //nolint:gosec // len fits in uint32
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// AdminBasicAuth guards admin routes with HTTP Basic credentials checked
// against the configured username and argon2id hash.
func AdminBasicAuth(username, passwordHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || username == "" ||
				subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
				!VerifyPassword(pass, passwordHash) {
				w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
				writeError(w, r, domain.ErrUnauthenticated, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type ownerKey struct{}

// ContextWithOwner stores the authenticated owner.
func ContextWithOwner(ctx context.Context, o domain.Owner) context.Context {
	return context.WithValue(ctx, ownerKey{}, o)
}

// OwnerFromContext returns the owner set by RequireOwner.
func OwnerFromContext(ctx context.Context) (domain.Owner, bool) {
	o, ok := ctx.Value(ownerKey{}).(domain.Owner)
	return o, ok && o.ID != ""
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// RequireOwner resolves the caller from the bearer token. Without an
// authenticator and with allowHeader set, the X-Owner-Id header is trusted
// instead, which is only meant for local development.
func RequireOwner(auth domain.Authenticator, allowHeader bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var owner domain.Owner
			switch {
			case auth != nil:
				token := bearerToken(r)
				if token == "" {
					writeError(w, r, domain.ErrUnauthenticated, nil)
					return
				}
				o, err := auth.Authenticate(r.Context(), token)
				if err != nil {
					writeError(w, r, err, nil)
					return
				}
				owner = o
			case allowHeader:
				owner.ID = strings.TrimSpace(r.Header.Get("X-Owner-Id"))
			}
			if owner.ID == "" {
				writeError(w, r, domain.ErrUnauthenticated, nil)
				return
			}
			ctx := ContextWithOwner(r.Context(), owner)
			lg := observability.LoggerFromContext(ctx).With(slog.String("owner_id", owner.ID))
			ctx = observability.ContextWithLogger(ctx, lg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
