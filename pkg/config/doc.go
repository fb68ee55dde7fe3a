// Package config provides application configuration management from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEHOUSE_HOST="0.0.0.0"
//	GATEHOUSE_PORT="8080"
//	GATEHOUSE_HEALTH_PORT="9090"
//
// Store settings:
//
//	GATEHOUSE_STORE="postgres"  # memory, postgres, s3
//	GATEHOUSE_POSTGRES_URL="postgres://localhost/gatehouse"
//	GATEHOUSE_S3_BUCKET="portal-grants"
//	GATEHOUSE_S3_PREFIX="grants"
//	GATEHOUSE_REDIS_URL="redis://localhost:6379/0"
//	GATEHOUSE_CACHE_SIZE="1024"
//	GATEHOUSE_CACHE_TTL="30s"
//
// Access settings:
//
//	GATEHOUSE_SYSTEM_ADMINS="root@co.com,ops@co.com"
//	GATEHOUSE_CATALOG_PATH="/etc/gatehouse/catalog.yaml"
//	GATEHOUSE_SESSION_TTL="12h"
//	GATEHOUSE_STATS_SCHEDULE="@every 5m"
//
// Auth settings:
//
//	GATEHOUSE_AUTH_MODE="oidc"  # header, oidc
//	GATEHOUSE_OIDC_ISSUER="https://accounts.google.com"
//	GATEHOUSE_OIDC_CLIENT_ID="..."
//
// Observability settings:
//
//	GATEHOUSE_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEHOUSE_METRICS_ENABLED="true"
//	GATEHOUSE_OTEL_ENABLED="true"
//	GATEHOUSE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
