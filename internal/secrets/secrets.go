// Package secrets resolves the database URL at startup.
//
// The URL itself comes from configuration; when it contains no password and
// 1Password Connect is configured, the password is fetched from the vault
// and injected. Configuration is via environment variables:
//   - OP_CONNECT_HOST: URL of the 1Password Connect server
//   - OP_CONNECT_TOKEN: Access token for the Connect server
//   - OP_VAULT_ID: UUID of the vault holding the database item
//   - PINGFLUX_DB_SECRET_ITEM: item title (default "pingflux database")
//
// Without Connect configuration the URL is used as-is, so local and test
// setups need nothing beyond the config file.
package secrets

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/1Password/connect-sdk-go/connect"
)

const defaultItemTitle = "pingflux database"

// Resolver injects vault-held credentials into connection URLs.
type Resolver struct {
	client    connect.Client
	vaultID   string
	itemTitle string
	logger    *slog.Logger
}

// NewResolverFromEnv builds a resolver from OP_* environment variables.
// Returns nil (resolution disabled) when Connect is not configured.
func NewResolverFromEnv(logger *slog.Logger) *Resolver {
	host := os.Getenv("OP_CONNECT_HOST")
	token := os.Getenv("OP_CONNECT_TOKEN")
	vaultID := os.Getenv("OP_VAULT_ID")
	if host == "" || token == "" || vaultID == "" {
		return nil
	}

	itemTitle := os.Getenv("PINGFLUX_DB_SECRET_ITEM")
	if itemTitle == "" {
		itemTitle = defaultItemTitle
	}

	return &Resolver{
		client:    connect.NewClientWithUserAgent(host, token, "pingflux"),
		vaultID:   vaultID,
		itemTitle: itemTitle,
		logger:    logger.With("component", "secrets"),
	}
}

// ResolveDatabaseURL returns dbURL with the vault password injected. A nil
// resolver or a URL that already carries a password passes through
// unchanged.
func (r *Resolver) ResolveDatabaseURL(dbURL string) (string, error) {
	if r == nil {
		return dbURL, nil
	}

	parsed, err := url.Parse(dbURL)
	if err != nil {
		return "", fmt.Errorf("parsing database URL: %w", err)
	}
	if parsed.User != nil {
		if _, ok := parsed.User.Password(); ok {
			return dbURL, nil
		}
	}

	password, err := r.lookupPassword()
	if err != nil {
		return "", fmt.Errorf("resolving database password: %w", err)
	}

	user := ""
	if parsed.User != nil {
		user = parsed.User.Username()
	}
	parsed.User = url.UserPassword(user, password)

	r.logger.Info("database password resolved from vault", "item", r.itemTitle)
	return parsed.String(), nil
}

// lookupPassword fetches the password field of the configured vault item.
func (r *Resolver) lookupPassword() (string, error) {
	items, err := r.client.GetItemsByTitle(r.itemTitle, r.vaultID)
	if err != nil {
		return "", fmt.Errorf("querying vault: %w", err)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("vault item %q not found", r.itemTitle)
	}

	item, err := r.client.GetItem(items[0].ID, r.vaultID)
	if err != nil {
		return "", fmt.Errorf("fetching vault item: %w", err)
	}
	for _, f := range item.Fields {
		if f.Purpose == "PASSWORD" || f.Label == "password" {
			return f.Value, nil
		}
	}
	return "", fmt.Errorf("vault item %q has no password field", r.itemTitle)
}
