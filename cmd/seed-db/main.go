// Command seed-db prepares a development database: it runs migrations and
// upserts the demo catalog, customers, vehicle units, and an API key.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/dealdesk/internal/storage/postgres"
)

type catalogItemJSON struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Currency          string          `json:"currency"`
	Serialized        bool            `json:"serialized"`
	AvailableQuantity int             `json:"available_quantity"`
	Units             []string        `json:"units,omitempty"`
}

type customerJSON struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Billing string `json:"billing"`
}

type seedFile struct {
	CatalogItems []catalogItemJSON `json:"catalog_items"`
	Customers    []customerJSON    `json:"customers"`
}

func main() {
	var (
		databaseURL  string
		seedPath     string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/dealdesk.json", "path to seed JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or DEAL_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or DEAL_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("DEAL_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or DEAL_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("DEAL_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("reading seed file", slog.String("path", seedPath))

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}

	if err := seedCatalog(ctx, pool, seed.CatalogItems); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	if err := seedCustomers(ctx, pool, seed.Customers); err != nil {
		return errors.Wrap(err, "seed customers")
	}
	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, items []catalogItemJSON) error {
	slog.Info("upserting catalog items", slog.Int("count", len(items)))

	for _, item := range items {
		if _, err := pool.Exec(ctx, `
			INSERT INTO catalog_items (id, name, unit_price, currency, serialized, available_quantity)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				unit_price = EXCLUDED.unit_price,
				currency = EXCLUDED.currency,
				serialized = EXCLUDED.serialized,
				available_quantity = EXCLUDED.available_quantity
		`, item.ID, item.Name, item.UnitPrice, item.Currency, item.Serialized, item.AvailableQuantity); err != nil {
			return errors.Wrapf(err, "upsert catalog item %s", item.ID)
		}

		for _, vin := range item.Units {
			if _, err := pool.Exec(ctx, `
				INSERT INTO vehicle_units (vin, catalog_item_id, status)
				VALUES ($1, $2, 'available')
				ON CONFLICT (vin) DO NOTHING
			`, vin, item.ID); err != nil {
				return errors.Wrapf(err, "upsert unit %s", vin)
			}
		}

		slog.Info("upserted catalog item",
			slog.String("id", item.ID),
			slog.String("name", item.Name),
			slog.Int("units", len(item.Units)),
		)
	}

	return nil
}

func seedCustomers(ctx context.Context, pool *pgxpool.Pool, customers []customerJSON) error {
	slog.Info("upserting customers", slog.Int("count", len(customers)))

	for _, c := range customers {
		if _, err := pool.Exec(ctx, `
			INSERT INTO customers (id, name, email, phone, billing)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				email = EXCLUDED.email,
				phone = EXCLUDED.phone,
				billing = EXCLUDED.billing
		`, c.ID, c.Name, c.Email, c.Phone, c.Billing); err != nil {
			return errors.Wrapf(err, "upsert customer %s", c.ID)
		}

		slog.Info("upserted customer", slog.String("id", c.ID), slog.String("name", c.Name))
	}

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	if _, err := pool.Exec(ctx, `
		INSERT INTO api_keys (id, key_hash, name, scopes, active)
		VALUES ('default', $1, 'Default development key', $2, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			key_hash = EXCLUDED.key_hash,
			scopes = EXCLUDED.scopes,
			active = TRUE
	`, keyHash, []string{"quotation:*"}); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"))

	return nil
}
