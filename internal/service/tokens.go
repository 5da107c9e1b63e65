package service

import (
	"time"

	"github.com/raakeshmj/imagegate/internal/cache"
	"github.com/raakeshmj/imagegate/internal/token"
)

// tokenCacheWindow bounds how long a signed token is reused for the same
// (subject, path) pair. Well under the token TTL, so a cached token
// always has most of its life left when handed out.
const tokenCacheWindow = time.Minute

// TokenService mints image access tokens, reusing recent signatures for
// hot paths. Two issuances inside the cache window may return the same
// string or not; both verify independently either way.
type TokenService struct {
	codec *token.Codec
	cache *cache.TokenCache
}

func NewTokenService(codec *token.Codec, tokens *cache.TokenCache) *TokenService {
	return &TokenService{codec: codec, cache: tokens}
}

// Issue returns a token authorizing subjectID to fetch imagePath. The
// path must already be normalized by the caller.
func (s *TokenService) Issue(subjectID, imagePath string) (string, error) {
	if tok, ok := s.cache.Get(subjectID, imagePath); ok {
		return tok, nil
	}

	tok, err := s.codec.Generate(subjectID, imagePath, 0)
	if err != nil {
		return "", err
	}

	window := tokenCacheWindow
	if ttl := s.codec.DefaultTTL(); ttl/2 < window {
		window = ttl / 2
	}
	s.cache.Put(subjectID, imagePath, tok, window)
	return tok, nil
}

// ExpiresIn is the advertised token lifetime in whole seconds.
func (s *TokenService) ExpiresIn() int {
	return int(s.codec.DefaultTTL() / time.Second)
}
