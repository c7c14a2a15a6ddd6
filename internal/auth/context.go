package auth

import (
	"context"

	"rigdata/internal/models"
)

type ctxKey string

const (
	userKey   ctxKey = "user"
	claimsKey ctxKey = "claims"
	apiKeyKey ctxKey = "apiKey"
)

func WithUser(ctx context.Context, u *models.User, c *Claims) context.Context {
	ctx = context.WithValue(ctx, userKey, u)
	return context.WithValue(ctx, claimsKey, c)
}

// CurrentUser is the JWT-authenticated user, or nil.
func CurrentUser(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

func CurrentClaims(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

func WithAPIKey(ctx context.Context, k *models.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyKey, k)
}

// CurrentAPIKey is the API key that authenticated the request, or nil.
func CurrentAPIKey(ctx context.Context) *models.APIKey {
	k, _ := ctx.Value(apiKeyKey).(*models.APIKey)
	return k
}

// Actor returns the ids to attribute an action to.
func Actor(ctx context.Context) (userID, apiKeyID *string) {
	if u := CurrentUser(ctx); u != nil {
		id := u.ID
		userID = &id
	}
	if k := CurrentAPIKey(ctx); k != nil {
		id := k.ID
		apiKeyID = &id
	}
	return userID, apiKeyID
}
