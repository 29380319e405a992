// Package audit records authorization-relevant mutations in an
// append-only log.
//
// # Overview
//
// Every role assignment, unassignment and role definition change is
// written as an Entry with the acting user, the affected entity, free-form
// metadata and the request it came from. Entries are never updated or
// deleted through this package.
//
// # Writing
//
// Writer.CreateAuditLog is called after the change it describes has been
// committed. It never returns an error: a failing sink is logged as a
// warning and counted, and the caller proceeds.
//
//	writer := audit.NewWriter(dbLogger, logger, audit.WithMetrics(metrics))
//	writer.CreateAuditLog(ctx, audit.RequestContextFromHTTP(r), audit.Record{
//		UserID:     &actorID,
//		Action:     audit.ActionRoleAssign,
//		EntityType: audit.EntityUser,
//		EntityID:   "42",
//		Metadata:   map[string]interface{}{"assignedRoles": []string{"Viewer"}},
//	})
//
// # Sinks
//
//   - DBLogger: PostgreSQL audit_logs table with jsonb metadata, searchable
//   - FileLogger: JSON lines with size-based rotation
//   - MultiLogger: writes to several sinks in order
//
// # Export
//
// Handlers serves /audit/logs and /audit/logs/export (json, ndjson, csv)
// over any Searcher.
//
// # Archive
//
// ArchiveJob copies each finished UTC day of entries from a Searcher to an
// Archiver such as S3Archiver, as NDJSON objects. Schedule runs it on a
// cron spec. The source is only read.
package audit
