package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/whiskeygoggles/goggles/internal/config"
)

func TestNewIndexesAndKeepsFirstDuplicate(t *testing.T) {
	c, err := New([]Entry{
		{ID: 1, UniqueName: "A_750ml", Name: "A", Stock: 5},
		{ID: 2, UniqueName: " B_750ml ", Name: "B", Stock: 3},
		{ID: 3, UniqueName: "A_750ml", Name: "A again", Stock: 9},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	a, ok := c.Lookup("A_750ml")
	require.True(t, ok)
	assert.Equal(t, int64(1), a.ID)
	b, ok := c.Lookup("B_750ml")
	require.True(t, ok, "unique names are trimmed")
	assert.Equal(t, 3, b.Stock)
	assert.Equal(t, []string{"A_750ml"}, c.Duplicates())

	names := []string{}
	for _, e := range c.Entries() {
		names = append(names, e.UniqueName)
	}
	assert.Equal(t, []string{"A_750ml", "B_750ml"}, names)
}

func TestNewRejectsInvalidEntries(t *testing.T) {
	_, err := New([]Entry{{ID: 1, UniqueName: "  "}})
	assert.Error(t, err)
	_, err = New([]Entry{{ID: 1, UniqueName: "A_750ml", Stock: -1}})
	assert.Error(t, err)
}

func TestNilCatalogIsEmpty(t *testing.T) {
	var c *Catalog
	assert.Zero(t, c.Len())
	_, ok := c.Lookup("A_750ml")
	assert.False(t, ok)
}

func TestFileSourceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, WriteFile(path, []Entry{
		{ID: 7, UniqueName: "Blanton_s_Original_750ml", Name: "Blanton's Original", Stock: 2},
	}))

	c, err := FileSource{Path: path}.Load(context.Background())
	require.NoError(t, err)
	e, ok := c.Lookup("Blanton_s_Original_750ml")
	require.True(t, ok)
	assert.Equal(t, "Blanton's Original", e.Name)

	_, err = FileSource{Path: filepath.Join(t.TempDir(), "missing.json")}.Load(context.Background())
	assert.Error(t, err)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "inventory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	_, err = sqlDB.Exec(`CREATE TABLE whiskeys (
		id INTEGER PRIMARY KEY,
		unique_name TEXT NOT NULL,
		name TEXT NOT NULL,
		stock INTEGER
	)`)
	require.NoError(t, err)
	_, err = sqlDB.Exec(`INSERT INTO whiskeys (id, unique_name, name, stock) VALUES
		(3, 'C_1L', 'C', NULL),
		(1, 'A_750ml', 'A', 5),
		(2, 'B_750ml', 'B', 3)`)
	require.NoError(t, err)

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}),
		&gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	return db
}

func TestSQLSourceOrdersByIDAndDefaultsStock(t *testing.T) {
	source := NewSQLSource(openTestDB(t))

	c, err := source.Load(context.Background())
	require.NoError(t, err)

	entries := c.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{ID: 1, UniqueName: "A_750ml", Name: "A", Stock: 5}, entries[0])
	assert.Equal(t, Entry{ID: 2, UniqueName: "B_750ml", Name: "B", Stock: 3}, entries[1])
	assert.Equal(t, Entry{ID: 3, UniqueName: "C_1L", Name: "C", Stock: 0}, entries[2])
}

func TestOpenSelectsSource(t *testing.T) {
	src, err := Open(config.Catalog{Source: config.CatalogFile, Path: "/tmp/catalog.json"})
	require.NoError(t, err)
	assert.Equal(t, FileSource{Path: "/tmp/catalog.json"}, src)

	_, err = Open(config.Catalog{Source: "csv"})
	assert.Error(t, err)
}
