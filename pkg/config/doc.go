// Package config loads application configuration from BASTION_* environment
// variables with defaults for everything except the database URL.
//
// Server:
//
//	BASTION_HOST="0.0.0.0"
//	BASTION_PORT="8080"
//	BASTION_SHUTDOWN_TIMEOUT="30s"
//
// Database and Redis:
//
//	BASTION_DATABASE_URL="postgres://localhost/bastion?sslmode=disable"
//	BASTION_DATABASE_AUTO_MIGRATE="true"
//	BASTION_REDIS_URL="redis://localhost:6379/0"
//
// Permission cache:
//
//	BASTION_RBAC_CACHE_BACKEND="memory"  # memory, redis, none
//	BASTION_RBAC_CACHE_TTL="5m"
//	BASTION_RBAC_CACHE_SIZE="10000"
//	BASTION_RBAC_SEED_FILE="/etc/bastion/roles.yaml"
//
// Audit:
//
//	BASTION_AUDIT_SINK="database"  # database, file, both, none
//	BASTION_AUDIT_FILE_PATH="/var/log/bastion/audit"
//	BASTION_AUDIT_LOG_DENIALS="false"
//
// Identity and observability:
//
//	BASTION_IDENTITY_HEADER="X-Authenticated-User-Id"
//	BASTION_LOG_LEVEL="info"
//	BASTION_METRICS_ENABLED="true"
//	BASTION_OTEL_ENABLED="false"
//	BASTION_OTEL_ENDPOINT="localhost:4317"
package config
