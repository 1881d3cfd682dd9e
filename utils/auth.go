package utils

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// IdentityToken asks the gcloud CLI for an identity token of the active account
func IdentityToken(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "gcloud", "auth", "print-identity-token")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("gcloud auth print-identity-token: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// BearerToken returns token, falling back to a gcloud identity token
func BearerToken(ctx context.Context, token string) (string, error) {
	if token != "" {
		return token, nil
	}
	return IdentityToken(ctx)
}
