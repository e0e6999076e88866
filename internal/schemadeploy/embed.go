// Package schemadeploy deploys the embedded messaging-core schema into
// each database a discovery.Source surfaces, one migration run per
// tenant schema.
package schemadeploy

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// migrationInfo is the parsed form of a single migration filename.
type migrationInfo struct {
	Sequence  int
	Name      string
	Direction string
	Filename  string
}

// EmbeddedMigrations validates and exposes the migrations embedded into
// this binary at build time, so deployment never depends on files being
// present on the host filesystem.
type EmbeddedMigrations struct {
	fs fs.FS
	// sub is the migrations subtree rooted at "migrations", the form
	// iofs.New expects.
	sub fs.FS
}

// NewEmbeddedMigrations returns the embedded migration set. Pass nil to
// use the binary's compiled-in migrations; a non-nil fs.FS is accepted
// for tests that substitute a synthetic tree.
func NewEmbeddedMigrations(filesystem fs.FS) (*EmbeddedMigrations, error) {
	if filesystem == nil {
		filesystem = embeddedMigrations
	}

	sub, err := fs.Sub(filesystem, "migrations")
	if err != nil {
		return nil, fmt.Errorf("schemadeploy: locating migrations subtree: %w", err)
	}

	return &EmbeddedMigrations{fs: filesystem, sub: sub}, nil
}

// Source returns the fs.FS rooted at the migration files, ready for
// source/iofs.
func (e *EmbeddedMigrations) Source() fs.FS {
	return e.sub
}

// List returns every embedded filename matching the strict
// NNN_name.(up|down).sql convention, lexicographically sorted.
func (e *EmbeddedMigrations) List() ([]string, error) {
	entries, err := fs.ReadDir(e.sub, ".")
	if err != nil {
		return nil, fmt.Errorf("schemadeploy: reading embedded migrations: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) == ".sql" && migrationFilenameRegex.MatchString(name) {
			files = append(files, name)
		}
	}

	sort.Strings(files)

	return files, nil
}

// Validate checks up/down pairing, sequence contiguity, and that every
// file is readable, over the files List returns; a .sql file whose name
// does not follow the NNN_name.(up|down).sql convention is not listed
// and so is not reported. It is cheap enough to run before every
// deployment.
func (e *EmbeddedMigrations) Validate() error {
	files, err := e.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("schemadeploy: no embedded migration files found")
	}

	infos := make([]*migrationInfo, 0, len(files))

	for _, file := range files {
		info, err := parseMigrationFilename(file)
		if err != nil {
			return fmt.Errorf("schemadeploy: %w", err)
		}

		if _, err := fs.ReadFile(e.sub, file); err != nil {
			return fmt.Errorf("schemadeploy: reading %s: %w", file, err)
		}

		infos = append(infos, info)
	}

	if err := validatePairing(infos); err != nil {
		return err
	}

	return validateSequence(infos)
}

// Checksum returns the SHA256 checksum of a single embedded migration
// file, for audit logging at deployment time.
func (e *EmbeddedMigrations) Checksum(filename string) (string, error) {
	content, err := fs.ReadFile(e.sub, filename)
	if err != nil {
		return "", fmt.Errorf("schemadeploy: reading %s for checksum: %w", filename, err)
	}

	sum := sha256.Sum256(content)

	return fmt.Sprintf("%x", sum), nil
}

func parseMigrationFilename(filename string) (*migrationInfo, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename %q (expected NNN_name.up.sql or NNN_name.down.sql)",
			filename,
		)
	}

	seq, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence in %q: %w", filename, err)
	}

	return &migrationInfo{Sequence: seq, Name: matches[2], Direction: matches[3], Filename: filename}, nil
}

func validatePairing(infos []*migrationInfo) error {
	byKey := make(map[string]map[string]*migrationInfo)

	for _, info := range infos {
		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if byKey[key] == nil {
			byKey[key] = make(map[string]*migrationInfo)
		}

		byKey[key][info.Direction] = info
	}

	for key, directions := range byKey {
		if _, ok := directions["up"]; !ok {
			return fmt.Errorf("schemadeploy: orphaned down migration for %s", key)
		}

		if _, ok := directions["down"]; !ok {
			return fmt.Errorf("schemadeploy: orphaned up migration for %s", key)
		}
	}

	return nil
}

func validateSequence(infos []*migrationInfo) error {
	seen := make(map[int]bool)
	for _, info := range infos {
		seen[info.Sequence] = true
	}

	sequences := make([]int, 0, len(seen))
	for seq := range seen {
		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	if sequences[0] != 1 {
		return fmt.Errorf("schemadeploy: migration sequence must start at 001, found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if sequences[i] != sequences[i-1]+1 {
			return fmt.Errorf(
				"schemadeploy: gap in migration sequence: expected %03d, found %03d",
				sequences[i-1]+1, sequences[i],
			)
		}
	}

	return nil
}
