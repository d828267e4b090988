package utils

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/mmdatafocus/procurement_backend/appctx"
)

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, appctx.ContextKeyUserId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyUserName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyCorrelationId)
}

// EnsureCorrelationId returns the context correlation id, generating one when absent.
func EnsureCorrelationId(ctx context.Context) (context.Context, string) {
	if id, ok := GetCorrelationIdFromContext(ctx); ok && id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return SetCorrelationIdInContext(ctx, id), id
}

// HasCapability reports whether the upstream gateway granted the named capability.
// Capability names are compared case-insensitively.
func HasCapability(ctx context.Context, name string) bool {
	granted, ok := appctx.GetStringSet(ctx, appctx.ContextKeyGranted)
	if !ok {
		return false
	}
	return granted[strings.ToLower(strings.TrimSpace(name))]
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyUserName, userName)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyCorrelationId, correlationId)
}

// SetGrantedInContext stores a comma separated capability list, e.g. "approved,cancel".
func SetGrantedInContext(ctx context.Context, raw string) context.Context {
	granted := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			granted[part] = true
		}
	}
	return appctx.Set(ctx, appctx.ContextKeyGranted, granted)
}
