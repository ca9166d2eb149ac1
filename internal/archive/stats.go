// Read-only stats over the fetch tool's own dedup archive. The tool keeps a
// small SQLite database next to the downloaded files recording every item
// it has ever fetched; its contents are the tool's business, but the entry
// count is useful in listings.

package archive

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // Blank import for sql driver
)

// CountKnownItems returns the number of entries in the download's dedup
// archive, or zero if the tool has not created one yet.
func CountKnownItems(storagePath string) (int, error) {
	path := filepath.Join(storagePath, "archive.sqlite")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return 0, nil
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM archive").Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
