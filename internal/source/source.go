// Package source produces rows for a mapping from whichever input the
// mapping's configuration names: a local JSON file, a JSON file stored in
// S3, or a warehouse query (Snowflake or Postgres-wire). Warehouse queries
// are built from declarative configuration plus the mapping's persisted
// watermark: a verbatim `select` wins, then `stream`, then `table`.
package source

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/snowflakedb/gosnowflake"
	"golang.org/x/time/rate"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
)

// LogicalRow is the in-memory form of one source row: a string-keyed map of
// column name to decoded scalar/array/object value.
type LogicalRow map[string]any

// Get returns the value at key, or nil if absent.
func (r LogicalRow) Get(key string) (any, bool) {
	v, ok := r[key]
	return v, ok
}

// FetchRows produces all rows for a mapping, choosing file/S3/warehouse
// input based on the mapping's source spec. A select, stream, or table
// source takes precedence over file and s3 when a warehouse is configured.
func FetchRows(ctx context.Context, cfg *config.Config, common *config.CommonFields, watermark string) ([]LogicalRow, error) {
	src := common.Source
	if cfg.Warehouse != nil && (src.Select != nil || src.Stream != nil || src.Table != nil) {
		return fetchRowsFromWarehouse(ctx, cfg.Warehouse, common, watermark)
	}
	if src.File != nil {
		return loadRowsFromFile(*src.File)
	}
	if src.S3 != nil {
		return loadRowsFromS3(ctx, *src.S3)
	}
	return nil, fmt.Errorf("mapping %q: no supported source configured (need file, s3, or a warehouse)", common.Name)
}

func loadRowsFromFile(path string) ([]LogicalRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading input file %s: %w", path, err)
	}
	defer f.Close()

	contents, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading input file %s: %w", path, err)
	}
	return decodeRowArray(contents, path)
}

func loadRowsFromS3(ctx context.Context, src config.S3Source) ([]LogicalRow, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if src.Region != "" {
		opts = append(opts, awsconfig.WithRegion(src.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for s3 source: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	downloader := manager.NewDownloader(client)

	buf := manager.NewWriteAtBuffer([]byte{})
	_, err = downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(src.Bucket),
		Key:    aws.String(src.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("downloading s3://%s/%s: %w", src.Bucket, src.Key, err)
	}

	return decodeRowArray(buf.Bytes(), fmt.Sprintf("s3://%s/%s", src.Bucket, src.Key))
}

func decodeRowArray(contents []byte, source string) ([]LogicalRow, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(contents, &raw); err != nil {
		return nil, fmt.Errorf("parsing JSON input from %s: %w", source, err)
	}

	rows := make([]LogicalRow, 0, len(raw))
	for idx, item := range raw {
		var row LogicalRow
		if err := json.Unmarshal(item, &row); err != nil {
			return nil, fmt.Errorf("row at index %d in %s is not a JSON object: %w", idx, source, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// buildSQL generates the SQL text for a mapping's warehouse query, honoring
// the select > stream > table precedence, and injecting a watermark
// predicate only for table-backed, incrementally-configured mappings.
func buildSQL(common *config.CommonFields, watermark string) (string, error) {
	src := common.Source

	if src.Select != nil {
		return *src.Select, nil
	}

	if src.Stream != nil {
		sql := fmt.Sprintf("SELECT * FROM %s", *src.Stream)
		if src.Where != nil {
			sql += " WHERE " + *src.Where
		}
		return sql, nil
	}

	if src.Table != nil {
		sql := fmt.Sprintf("SELECT * FROM %s", *src.Table)
		hasWhere := false
		if src.Where != nil {
			sql += " WHERE " + *src.Where
			hasWhere = true
		}

		if watermark != "" && common.Delta != nil {
			predicate := fmt.Sprintf("%s > '%s'", common.Delta.UpdatedAtColumn, watermark)
			if hasWhere {
				sql += " AND " + predicate
			} else {
				sql += " WHERE " + predicate
			}
		}
		return sql, nil
	}

	return "", fmt.Errorf(
		"mapping %q: warehouse source must specify source.table, source.stream, or source.select",
		common.Name,
	)
}

func fetchRowsFromWarehouse(ctx context.Context, wh *config.WarehouseConfig, common *config.CommonFields, watermark string) ([]LogicalRow, error) {
	db, err := openWarehouse(wh)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	baseSQL, err := buildSQL(common, watermark)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if wh.FetchPagesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(wh.FetchPagesPerSec), 1)
	}

	if wh.FetchBatchSize > 0 && common.Delta != nil && common.Source.Select == nil {
		return fetchPaged(ctx, db, baseSQL, common.Delta.UpdatedAtColumn, wh.FetchBatchSize, limiter)
	}

	rows, err := db.QueryContext(ctx, baseSQL)
	if err != nil {
		return nil, fmt.Errorf("mapping %q: source query failed: %w", common.Name, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func openWarehouse(wh *config.WarehouseConfig) (*sql.DB, error) {
	switch wh.EffectiveKind() {
	case config.WarehouseKindPostgres:
		db, err := sql.Open("pgx", wh.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres warehouse connection: %w", err)
		}
		return db, nil
	default:
		dsn, err := snowflakeDSN(wh)
		if err != nil {
			return nil, err
		}
		db, err := sql.Open("snowflake", dsn)
		if err != nil {
			return nil, fmt.Errorf("opening snowflake warehouse connection: %w", err)
		}
		return db, nil
	}
}

func snowflakeDSN(wh *config.WarehouseConfig) (string, error) {
	sfCfg := &gosnowflake.Config{
		Account:   wh.Account,
		User:      wh.User,
		Warehouse: wh.Warehouse,
		Database:  wh.Database,
		Schema:    wh.Schema,
	}
	if wh.Role != nil {
		sfCfg.Role = *wh.Role
	}
	if wh.QueryTimeoutMS > 0 {
		sfCfg.LoginTimeout = time.Duration(wh.QueryTimeoutMS) * time.Millisecond
	}

	switch {
	case wh.PrivateKeyPath != nil:
		key, err := loadSnowflakePrivateKey(*wh.PrivateKeyPath, wh.Password)
		if err != nil {
			return "", err
		}
		sfCfg.Authenticator = gosnowflake.AuthTypeJwt
		sfCfg.PrivateKey = key
	case wh.Password != nil:
		sfCfg.Password = *wh.Password
	default:
		return "", fmt.Errorf("snowflake warehouse config requires password or private_key_path for authentication")
	}

	return gosnowflake.DSN(sfCfg)
}

// loadSnowflakePrivateKey reads a PEM-encoded PKCS8 private key, decrypting
// it with passphrase when the PEM block carries DEK-Info headers (an
// encrypted key). With key-pair auth the configured password is the key's
// passphrase, not a login secret.
func loadSnowflakePrivateKey(path string, passphrase *string) (*rsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snowflake private key from %s: %w", path, err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("decoding PEM private key from %s: no PEM block found", path)
	}

	keyBytes := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck // legacy encrypted PEM keys are still in circulation
		if passphrase == nil {
			return nil, fmt.Errorf("snowflake private key at %s is encrypted but no password was configured", path)
		}
		keyBytes, err = x509.DecryptPEMBlock(block, []byte(*passphrase)) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("decrypting snowflake private key from %s: %w", path, err)
		}
	}

	parsed, err := x509.ParsePKCS8PrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing snowflake private key from %s: %w", path, err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("snowflake private key at %s is not an RSA key", path)
	}
	return rsaKey, nil
}

// fetchPaged fetches rows using LIMIT/OFFSET paging ordered by orderColumn,
// terminating on a short or empty page. This keeps individual result sets
// bounded for large incremental loads while returning the same logical rows
// a single unpaged query would.
func fetchPaged(ctx context.Context, db *sql.DB, baseSQL, orderColumn string, batchSize int, limiter *rate.Limiter) ([]LogicalRow, error) {
	var out []LogicalRow
	offset := 0

	for page := 0; ; page++ {
		if page > 0 && limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("waiting for paging rate limiter: %w", err)
			}
		}

		pagedSQL := fmt.Sprintf("%s ORDER BY %s LIMIT %d OFFSET %d", baseSQL, orderColumn, batchSize, offset)
		rows, err := db.QueryContext(ctx, pagedSQL)
		if err != nil {
			return nil, fmt.Errorf("paged source query failed: %w", err)
		}

		chunk, err := scanRows(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}

		out = append(out, chunk...)
		if len(chunk) < batchSize {
			break
		}
		offset += len(chunk)
	}

	return out, nil
}

// scanRows converts a *sql.Rows result into LogicalRows, attempting a JSON
// decode of each column's textual representation and falling back to the
// raw string when that fails.
func scanRows(rows *sql.Rows) ([]LogicalRow, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}

	var out []LogicalRow
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}

		row := make(LogicalRow, len(cols))
		for i, col := range cols {
			row[col] = coerceValue(raw[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return out, nil
}

// coerceValue attempts to decode a driver value's textual form as JSON,
// falling back to a plain string.
func coerceValue(v any) any {
	if v == nil {
		return nil
	}

	var text string
	switch t := v.(type) {
	case []byte:
		text = string(t)
	case string:
		text = t
	default:
		return v
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return decoded
	}
	return text
}
