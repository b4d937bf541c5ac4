// Package secretref resolves secret-reference strings found in
// configuration files. Two forms are recognized: a leading "$" names an
// environment variable, and an "infisical://" prefix names a secret path
// fetched from Infisical
// using connection details supplied via environment variables. Any other
// string is returned unchanged — most config values are not secrets at all.
package secretref

import (
	"context"
	"fmt"
	"os"
	"strings"

	infisical "github.com/infisical/go-sdk"
)

const infisicalScheme = "infisical://"

// Resolve returns the literal value a config string should carry: itself,
// unless it is a "$VAR" or "infisical://path" reference, in which case the
// referenced value is fetched and returned.
func Resolve(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, infisicalScheme):
		return resolveInfisical(strings.TrimPrefix(value, infisicalScheme))
	case strings.HasPrefix(value, "$"):
		return resolveEnv(strings.TrimPrefix(value, "$"))
	default:
		return value, nil
	}
}

func resolveEnv(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %s referenced by config is not set", name)
	}
	return v, nil
}

// infisicalEnv* name the environment variables used to establish an
// Infisical client and project context. They mirror the
// SNOWFLAKE_TO_FALKORDB_-prefixed convention the rest of this service's
// environment surface uses.
const (
	infisicalEnvSiteURL     = "SNOWFLAKE_TO_FALKORDB_INFISICAL_SITE_URL"
	infisicalEnvClientID    = "SNOWFLAKE_TO_FALKORDB_INFISICAL_CLIENT_ID"
	infisicalEnvClientSec   = "SNOWFLAKE_TO_FALKORDB_INFISICAL_CLIENT_SECRET"
	infisicalEnvProjectID   = "SNOWFLAKE_TO_FALKORDB_INFISICAL_PROJECT_ID"
	infisicalEnvEnvironment = "SNOWFLAKE_TO_FALKORDB_INFISICAL_ENVIRONMENT"
)

func resolveInfisical(secretPath string) (string, error) {
	siteURL := os.Getenv(infisicalEnvSiteURL)
	if siteURL == "" {
		siteURL = "https://app.infisical.com"
	}
	clientID := os.Getenv(infisicalEnvClientID)
	clientSecret := os.Getenv(infisicalEnvClientSec)
	projectID := os.Getenv(infisicalEnvProjectID)
	environment := os.Getenv(infisicalEnvEnvironment)
	if clientID == "" || clientSecret == "" || projectID == "" {
		return "", fmt.Errorf(
			"infisical:// reference %q requires %s, %s and %s to be set",
			secretPath, infisicalEnvClientID, infisicalEnvClientSec, infisicalEnvProjectID,
		)
	}
	if environment == "" {
		environment = "prod"
	}

	ctx := context.Background()
	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	if _, err := client.Auth().UniversalAuthLogin(clientID, clientSecret); err != nil {
		return "", fmt.Errorf("authenticating to Infisical: %w", err)
	}

	secretName, folderPath := splitSecretPath(secretPath)
	secrets, err := client.Secrets().List(infisical.ListSecretsOptions{
		AttachToProcessEnv: false,
		ProjectID:          projectID,
		Environment:        environment,
		SecretPath:         folderPath,
		IncludeImports:     true,
	})
	if err != nil {
		return "", fmt.Errorf("listing infisical secrets for %q: %w", secretPath, err)
	}

	for _, secret := range secrets {
		if secret.SecretKey == secretName {
			return secret.SecretValue, nil
		}
	}
	return "", fmt.Errorf("infisical secret %q not found under path %s", secretName, folderPath)
}

// splitSecretPath splits "a/b/NAME" into folder "/a/b" and secret key
// "NAME", matching Infisical's folder-path/secret-name addressing.
func splitSecretPath(p string) (name string, folder string) {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return p, "/"
	}
	folder = p[:idx]
	if folder == "" {
		folder = "/"
	}
	if !strings.HasPrefix(folder, "/") {
		folder = "/" + folder
	}
	return p[idx+1:], folder
}
