// Package config assembles loader settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lobbygraph/backend/internal/util"
	"github.com/lobbygraph/backend/pkg/graph"
	"github.com/lobbygraph/backend/pkg/ingest"

	"github.com/go-playground/validator"
)

const (
	BackendNeo4j    = "neo4j"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	ArchivesFS = "fs"
	ArchivesS3 = "s3"
)

type Neo4j struct {
	URI        string
	Username   string
	Password   string
	Database   string
	PurgeBatch int `validate:"min=0"`
}

type Postgres struct {
	DatabaseURL   string
	RunMigrations bool
}

type S3 struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

type RabbitMQ struct {
	URL          string
	LoadQueue    string `validate:"required"`
	SummaryQueue string
	MaxRetries   int `validate:"min=0"`
}

type Config struct {
	Debug     bool
	LogFormat string `validate:"omitempty,oneof=text json logfmt"`

	Backend  string `validate:"required,oneof=neo4j postgres memory"`
	Neo4j    Neo4j
	Postgres Postgres

	// ArchiveStore selects where ArchivePath is resolved.
	ArchiveStore string `validate:"required,oneof=fs s3"`
	ArchivePath  string
	S3           S3

	MissingAmountPolicy ingest.AmountPolicy `validate:"required,oneof=skip zero"`
	RecordTimeout       time.Duration       `validate:"min=0"`
	MaxTries            int                 `validate:"min=1"`
	RetryInitial        time.Duration       `validate:"min=0"`
	RetryMax            time.Duration       `validate:"min=0"`
	CacheSizes          graph.CacheSizes

	LeaseTTL time.Duration `validate:"min=0"`

	PushgatewayURL string `validate:"omitempty,url"`
	MetricsAddr    string
	// SummaryPrefix, when set, uploads run summaries to S3 under this prefix.
	SummaryPrefix string

	Queue RabbitMQ
}

// FromEnv reads the configuration. Call util.LoadEnv first to pick up a
// .env file.
func FromEnv() Config {
	sizes := graph.DefaultCacheSizes()
	return Config{
		Debug:     util.GetEnvBool("DEBUG", false),
		LogFormat: util.GetEnvString("LOG_FORMAT", "text"),

		Backend: strings.ToLower(util.GetEnvString("STORE_BACKEND", BackendNeo4j)),
		Neo4j: Neo4j{
			URI:        util.GetEnvString("NEO4J_URI", "neo4j://localhost:7687"),
			Username:   util.GetEnvString("NEO4J_USER", "neo4j"),
			Password:   util.GetEnv("NEO4J_PASSWORD"),
			Database:   util.GetEnvString("NEO4J_DATABASE", "neo4j"),
			PurgeBatch: util.GetEnvInt("NEO4J_PURGE_BATCH", 10000),
		},
		Postgres: Postgres{
			DatabaseURL:   util.GetEnv("DATABASE_URL"),
			RunMigrations: util.GetEnvBool("RUN_MIGRATIONS", true),
		},

		ArchiveStore: strings.ToLower(util.GetEnvString("ARCHIVE_STORE", ArchivesFS)),
		ArchivePath:  util.GetEnv("ARCHIVE_PATH"),
		S3: S3{
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey: util.GetEnv("AWS_SECRET_KEY"),
			Bucket:    util.GetEnvString("AWS_BUCKET", "lobbygraph"),
		},

		MissingAmountPolicy: ingest.AmountPolicy(strings.ToLower(util.GetEnvString("MISSING_AMOUNT_POLICY", string(ingest.AmountSkip)))),
		RecordTimeout:       util.GetEnvDuration("RECORD_TIMEOUT", 30*time.Second),
		MaxTries:            util.GetEnvInt("RECORD_MAX_TRIES", 3),
		RetryInitial:        util.GetEnvDuration("RECORD_RETRY_INITIAL", 200*time.Millisecond),
		RetryMax:            util.GetEnvDuration("RECORD_RETRY_MAX", 5*time.Second),
		CacheSizes: graph.CacheSizes{
			Client:           util.GetEnvInt("CACHE_SIZE_CLIENT", sizes.Client),
			Registrant:       util.GetEnvInt("CACHE_SIZE_REGISTRANT", sizes.Registrant),
			Lobbyist:         util.GetEnvInt("CACHE_SIZE_LOBBYIST", sizes.Lobbyist),
			GovernmentEntity: util.GetEnvInt("CACHE_SIZE_GOVERNMENT_ENTITY", sizes.GovernmentEntity),
			Issue:            util.GetEnvInt("CACHE_SIZE_ISSUE", sizes.Issue),
		},

		LeaseTTL: util.GetEnvDuration("LEASE_TTL", 2*time.Minute),

		PushgatewayURL: util.GetEnv("PUSHGATEWAY_URL"),
		MetricsAddr:    util.GetEnv("METRICS_ADDR"),
		SummaryPrefix:  util.GetEnv("SUMMARY_PREFIX"),

		Queue: RabbitMQ{
			URL:          rabbitURL(),
			LoadQueue:    util.GetEnvString("LOAD_QUEUE", "load_queue"),
			SummaryQueue: util.GetEnvString("SUMMARY_QUEUE", "load_summary_queue"),
			MaxRetries:   util.GetEnvInt("QUEUE_MAX_RETRIES", 3),
		},
	}
}

func rabbitURL() string {
	if u := util.GetEnv("RABBITMQ_URL"); u != "" {
		return u
	}
	host := util.GetEnv("RABBITMQ_HOST")
	if host == "" {
		return ""
	}
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		util.GetEnvString("RABBITMQ_USER", "guest"),
		util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
		host,
		util.GetEnvString("RABBITMQ_PORT", "5672"),
	)
}

// Validate checks field constraints and the settings each backend and
// archive store needs.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	var errs []error
	switch c.Backend {
	case BackendNeo4j:
		if c.Neo4j.URI == "" {
			errs = append(errs, errors.New("NEO4J_URI is required for the neo4j backend"))
		}
	case BackendPostgres:
		if c.Postgres.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	}
	if c.ArchiveStore == ArchivesS3 && c.S3.Bucket == "" {
		errs = append(errs, errors.New("AWS_BUCKET is required for the s3 archive store"))
	}
	if c.SummaryPrefix != "" && c.S3.Bucket == "" {
		errs = append(errs, errors.New("AWS_BUCKET is required to upload summaries"))
	}
	if c.RetryMax > 0 && c.RetryInitial > c.RetryMax {
		errs = append(errs, errors.New("RECORD_RETRY_INITIAL must not exceed RECORD_RETRY_MAX"))
	}
	return errors.Join(errs...)
}

// Backoff returns the record retry backoff.
func (c Config) Backoff() util.Backoff {
	return util.Backoff{Initial: c.RetryInitial, Max: c.RetryMax}
}
