// Package access holds the permission catalog and the Access Evaluator.
//
// The catalog is the universe of page ids and feature ids. A user's stored
// GrantSet names the pages and features explicitly granted to them. The
// Evaluator combines a GrantSet with the system-admin flag:
//
//	enabled := evaluator.ComputeEnabledModules(grants.Pages, isAdmin)
//	access.HasPageAccess("clients", enabled)
//	evaluator.HasFeatureAccess("export_reports", grants.Features, isAdmin)
//
// Rules:
//
//   - System admins see every page and every feature, whatever is stored.
//   - Everyone else sees stored pages plus the base modules.
//   - The dashboard is always enabled and can never be revoked.
//   - Features are never implied by page access.
//
// Evaluation performs no I/O. The catalog can be replaced at runtime with
// SetCatalog or a CatalogWatcher.
package access
