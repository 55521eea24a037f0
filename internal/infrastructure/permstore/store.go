// Package permstore backs the permission gate's "always" grants (§4.6, §6)
// with a gorm-managed table instead of a hand-rolled JSON file, while still
// being able to export/import the spec's documented
// {toolPermissions: {"<repo-path>:<tool-name>": true}} JSON shape for
// cross-session portability.
package permstore

import (
	"encoding/json"
	"os"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// grantRow is the gorm model backing one (repoPath, toolName) grant.
type grantRow struct {
	Key     string `gorm:"primaryKey"`
	Granted bool
}

func (grantRow) TableName() string { return "tool_permissions" }

// Store is a gorm-backed implementation of security.PersistentStore.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New opens (and migrates) the permission-grant table on db. Callers
// construct db with gorm.Open(sqlite.Open(path), ...) or
// gorm.Open(postgres.Open(dsn), ...) depending on deployment — the store
// itself is driver-agnostic.
func New(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if err := db.AutoMigrate(&grantRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

func normalizeKey(repoPath, toolName string) string {
	return strings.ToLower(strings.TrimRight(repoPath, "/\\")) + ":" + toolName
}

// Get reports whether an "always" grant exists for (repoPath, toolName).
func (s *Store) Get(repoPath, toolName string) (bool, error) {
	var row grantRow
	err := s.db.Where("key = ?", normalizeKey(repoPath, toolName)).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return row.Granted, nil
}

// Set persists (or revokes) an "always" grant for (repoPath, toolName).
func (s *Store) Set(repoPath, toolName string, granted bool) error {
	row := grantRow{Key: normalizeKey(repoPath, toolName), Granted: granted}
	return s.db.Save(&row).Error
}

// exportDoc matches §6's persistent-store JSON layout exactly, so grants can
// be inspected or migrated by hand between sessions.
type exportDoc struct {
	ToolPermissions map[string]bool `json:"toolPermissions"`
}

// ExportJSON writes the full grant table to path in the spec's documented
// {toolPermissions: {...}} shape.
func (s *Store) ExportJSON(path string) error {
	var rows []grantRow
	if err := s.db.Find(&rows).Error; err != nil {
		return err
	}
	doc := exportDoc{ToolPermissions: make(map[string]bool, len(rows))}
	for _, r := range rows {
		doc.ToolPermissions[r.Key] = r.Granted
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ImportJSON merges grants from a spec-shaped JSON file into the table.
func (s *Store) ImportJSON(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	for key, granted := range doc.ToolPermissions {
		row := grantRow{Key: key, Granted: granted}
		if err := s.db.Save(&row).Error; err != nil {
			return err
		}
	}
	return nil
}
