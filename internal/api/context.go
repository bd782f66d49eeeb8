package api

import (
	"context"

	"github.com/org/assetgate/pkg/models"
)

type contextKey string

const ctxKeyToken contextKey = "token"

func withToken(ctx context.Context, t *models.Token) context.Context {
	return context.WithValue(ctx, ctxKeyToken, t)
}

func tokenFromCtx(ctx context.Context) *models.Token {
	t, _ := ctx.Value(ctxKeyToken).(*models.Token)
	return t
}
