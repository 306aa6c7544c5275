package uploader

import (
	"fmt"
	"os"
	"path/filepath"
)

// CredentialsError reports that the channel cannot be mapped to a usable
// token and client-secret pair. It is terminal; retrying cannot fix missing
// files.
type CredentialsError struct {
	ChannelSlug string
	Detail      string
}

func (e *CredentialsError) Error() string {
	return fmt.Sprintf("credentials for channel %s: %s", e.ChannelSlug, e.Detail)
}

// Credentials is a resolved token and client-secret file pair.
type Credentials struct {
	TokenPath        string
	ClientSecretPath string
}

// ResolveCredentials maps a channel slug to its OAuth file pair. Per-channel
// layout <tokensDir>/<slug>/token.json wins when the base dir is configured;
// the global pair is the fallback. Both paths must exist on disk.
func ResolveCredentials(tokensDir, globalClientSecret, globalToken, slug string) (*Credentials, error) {
	if tokensDir != "" {
		tokenPath := filepath.Join(tokensDir, slug, "token.json")
		secretPath := filepath.Join(tokensDir, slug, "client_secret.json")
		if !fileExists(secretPath) {
			secretPath = globalClientSecret
		}
		if fileExists(tokenPath) && fileExists(secretPath) {
			return &Credentials{TokenPath: tokenPath, ClientSecretPath: secretPath}, nil
		}
	}

	if fileExists(globalToken) && fileExists(globalClientSecret) {
		return &Credentials{TokenPath: globalToken, ClientSecretPath: globalClientSecret}, nil
	}

	return nil, &CredentialsError{
		ChannelSlug: slug,
		Detail:      "no per-channel token.json and no global token/client-secret pair",
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
