// Package contacts reads the macOS AddressBook stores and caches the
// result. Contacts are read-only; the stores are owned by Contacts.app.
package contacts

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Napageneral/msgbridge/imessage"
	"github.com/Napageneral/msgbridge/internal/errs"
)

// Identifier is one addressable identifier of a contact, normalized
// through imessage.NormalizeIdentifier.
type Identifier struct {
	Value string `json:"value"`
	Kind  string `json:"kind"` // "phone" | "email"
}

// Contact is a read-only AddressBook record: a display name and its
// identifiers in the store's display order.
type Contact struct {
	Name        string       `json:"name"`
	Identifiers []Identifier `json:"identifiers"`
}

// DefaultAddressBookDir returns the root under which the per-source
// AddressBook databases live.
func DefaultAddressBookDir() string {
	if override := os.Getenv("MSGBRIDGE_ADDRESSBOOK_DIR"); override != "" {
		return os.ExpandEnv(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Application Support", "AddressBook")
}

// findAddressBooks walks dir for AddressBook-v22.abcddb files, one per
// sync source.
func findAddressBooks(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, errs.New(errs.Access, "AddressBook directory not found at %s", dir)
	}

	var dbs []string
	seen := map[string]struct{}{}
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d == nil || d.IsDir() {
			return nil
		}
		if d.Name() != "AddressBook-v22.abcddb" {
			return nil
		}
		if _, ok := seen[path]; ok {
			return nil
		}
		seen[path] = struct{}{}
		dbs = append(dbs, path)
		return nil
	})

	return dbs, nil
}

// readAddressBook extracts contacts from one AddressBook database.
// Per-source failures are soft: a missing table or unreadable variant
// yields no contacts rather than an error, since other sources may
// still be readable.
func readAddressBook(dbPath string) ([]Contact, error) {
	conn, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, nil
	}
	defer conn.Close()

	var n string
	err = conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = 'ZABCDRECORD' LIMIT 1").Scan(&n)
	if err != nil || n != "ZABCDRECORD" {
		return nil, nil
	}

	// Phones carry a display-order column; messaging addresses do not.
	query := `
		SELECT r.Z_PK, r.ZFIRSTNAME, r.ZLASTNAME, p.ZFULLNUMBER AS identifier, 0 AS bucket, p.ZORDERINGINDEX AS ord
		FROM ZABCDRECORD r
		JOIN ZABCDPHONENUMBER p ON p.ZOWNER = r.Z_PK
		WHERE p.ZFULLNUMBER IS NOT NULL
		UNION ALL
		SELECT r.Z_PK, r.ZFIRSTNAME, r.ZLASTNAME, m.ZADDRESS AS identifier, 1 AS bucket, 0 AS ord
		FROM ZABCDRECORD r
		JOIN ZABCDMESSAGINGADDRESS m ON m.ZOWNER = r.Z_PK
		WHERE m.ZADDRESS IS NOT NULL
		ORDER BY r.Z_PK, bucket, ord
	`

	rows, err := conn.Query(query)
	if err != nil {
		// Some AddressBook variants lack the messaging table; retry
		// with phones only.
		rows, err = conn.Query(`
			SELECT r.Z_PK, r.ZFIRSTNAME, r.ZLASTNAME, p.ZFULLNUMBER AS identifier, 0 AS bucket, p.ZORDERINGINDEX AS ord
			FROM ZABCDRECORD r
			JOIN ZABCDPHONENUMBER p ON p.ZOWNER = r.Z_PK
			WHERE p.ZFULLNUMBER IS NOT NULL
			ORDER BY r.Z_PK, ord
		`)
		if err != nil {
			return nil, nil
		}
	}
	defer rows.Close()

	var out []Contact
	byRecord := map[int64]int{}
	for rows.Next() {
		var (
			pk     int64
			first  sql.NullString
			last   sql.NullString
			ident  sql.NullString
			bucket int
			ord    sql.NullInt64
		)
		if err := rows.Scan(&pk, &first, &last, &ident, &bucket, &ord); err != nil {
			return nil, errs.Wrap(errs.Access, err, "failed to scan AddressBook row")
		}
		if !ident.Valid {
			continue
		}

		name := cleanContactName(strings.TrimSpace(strings.TrimSpace(first.String) + " " + strings.TrimSpace(last.String)))
		identifier := strings.TrimSpace(ident.String)
		// Strip vCard image metadata occasionally embedded in numbers.
		if i := strings.Index(identifier, "X-IMAGETYPE"); i >= 0 {
			identifier = identifier[:i]
		}
		if identifier == "" {
			continue
		}

		if isSystemContact(name, identifier) {
			continue
		}

		norm, typ := imessage.NormalizeIdentifier(identifier)
		if norm == "" {
			continue
		}
		if name == "" {
			name = norm
		}

		idx, ok := byRecord[pk]
		if !ok {
			idx = len(out)
			byRecord[pk] = idx
			out = append(out, Contact{Name: name})
		}
		if !hasIdentifier(out[idx], norm) {
			out[idx].Identifiers = append(out[idx].Identifiers, Identifier{Value: norm, Kind: typ})
		}
	}
	return out, rows.Err()
}

// isSystemContact filters carrier/system entries that pollute matching.
func isSystemContact(name, identifier string) bool {
	return strings.HasPrefix(name, "#") ||
		strings.HasPrefix(identifier, "#") ||
		strings.Contains(name, "VZ") ||
		strings.Contains(name, "Roadside") ||
		strings.Contains(name, "Assistance") ||
		strings.HasPrefix(name, "*") ||
		strings.HasPrefix(identifier, "*")
}

func hasIdentifier(c Contact, value string) bool {
	for _, id := range c.Identifiers {
		if id.Value == value {
			return true
		}
	}
	return false
}

func cleanContactName(name string) string {
	parts := strings.Fields(name)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.EqualFold(p, "none") {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, " ")
}

// loadAll reads every AddressBook source under dir and merges records
// that share a display name, preserving identifier order.
func loadAll(dir string) ([]Contact, error) {
	paths, err := findAddressBooks(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errs.New(errs.Access, "no AddressBook databases found under %s (grant Full Disk Access to your terminal)", dir)
	}

	var merged []Contact
	byName := map[string]int{}
	for _, p := range paths {
		cs, err := readAddressBook(p)
		if err != nil {
			// Per-source errors are soft; keep going.
			continue
		}
		for _, c := range cs {
			idx, ok := byName[c.Name]
			if !ok {
				idx = len(merged)
				byName[c.Name] = idx
				merged = append(merged, Contact{Name: c.Name})
			}
			for _, id := range c.Identifiers {
				if !hasIdentifier(merged[idx], id.Value) {
					merged[idx].Identifiers = append(merged[idx].Identifiers, id)
				}
			}
		}
	}
	return merged, nil
}

// CheckAccess probes the AddressBook directory for diagnostics.
func CheckAccess(dir string) imessage.AccessReport {
	report := imessage.AccessReport{Path: dir}

	paths, err := findAddressBooks(dir)
	if err != nil {
		report.Notes = append(report.Notes, err.Error())
		return report
	}
	report.Exists = true
	if len(paths) == 0 {
		report.Notes = append(report.Notes, "no AddressBook-v22.abcddb files found")
		return report
	}

	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			report.Notes = append(report.Notes, "permission denied reading "+p)
			continue
		}
		f.Close()
		report.Readable = true
	}

	contacts, err := loadAll(dir)
	if err != nil {
		report.Notes = append(report.Notes, err.Error())
		return report
	}
	report.TablesPresent = true
	report.RowCount = int64(len(contacts))
	return report
}
