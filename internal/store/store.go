// Package store persists Accounts, MailItems, and CalendarItems in a single
// SQLite database, with FTS5 keyword indexes and sqlite-vec ANN indexes kept
// in sync by triggers and explicit upserts respectively.
//
// The engine runs one writer process and any number of read-only query
// processes against the same file. Readers never take SQLite's write lock;
// they query the file directly and see each committed write through WAL.
// Every mail or calendar item upsert or delete also bumps the manifest
// table's generation counter, which Generation reads.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jamiequint/groundeffect/internal/models"
)

func init() {
	sqlite_vec.Auto()
}

// Store wraps the shared database handle. Writer and Reader embed it to
// expose only the operations appropriate to their role.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (and if necessary creates) the database at path, applies
// PRAGMAs for WAL concurrency, and runs the schema migration. writable
// controls whether the connection requests the write lock; read-only query
// processes should pass false so they never block on, or trigger, a writer.
func Open(path string, writable bool) (*Store, error) {
	mode := "ro"
	if writable {
		mode = "rwc"
	}
	dsn := fmt.Sprintf("file:%s?mode=%s&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", path, mode)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, models.Fatal("open database", err)
	}
	if !writable {
		db.SetMaxOpenConns(4)
	} else {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, path: path}
	if writable {
		if err := s.migrate(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return models.Fatal("apply schema", err)
	}
	vecSchema := fmt.Sprintf(vecSchemaTmpl, models.EmbeddingDimension, models.EmbeddingDimension)
	if _, err := s.db.Exec(vecSchema); err != nil {
		return models.Fatal("apply vector schema", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the filesystem path this Store was opened against, so a
// writer can hand readers the same DSN target.
func (s *Store) Path() string {
	return s.path
}

// Generation returns the manifest's current generation counter. Readers
// poll this to notice that the writer has committed new data.
func (s *Store) Generation() (int64, error) {
	var gen int64
	err := s.db.QueryRow(`SELECT generation FROM manifest WHERE id = 1`).Scan(&gen)
	if err != nil {
		return 0, models.Fatal("read generation", err)
	}
	return gen, nil
}

func bumpGeneration(tx *sql.Tx) error {
	if _, err := tx.Exec(`UPDATE manifest SET generation = generation + 1 WHERE id = 1`); err != nil {
		return models.Fatal("bump generation", err)
	}
	return nil
}

func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	switch vv := v.(type) {
	case []string:
		if len(vv) == 0 {
			return "", nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", models.Fatal("marshal field", err)
	}
	return string(b), nil
}

func unmarshalJSON(s string, v interface{}) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return models.Fatal("unmarshal field", err)
	}
	return nil
}

func serializeEmbedding(v []float32) ([]byte, error) {
	b, err := sqlite_vec.SerializeFloat32(v)
	if err != nil {
		return nil, models.Fatal("serialize embedding", err)
	}
	return b, nil
}

// GetMailItemByMessageID looks up a mail item by its RFC 5322 Message-ID
// within one account, used to walk the In-Reply-To/References chain when
// deriving a thread id. Available on both Writer and Reader since both
// embed *Store.
func (s *Store) GetMailItemByMessageID(accountID, messageID string) (models.MailItem, error) {
	row := s.db.QueryRow(mailSelectColumns+` FROM mail_items WHERE account_id = ? AND message_id = ? LIMIT 1`,
		accountID, messageID)
	m, err := scanMailItem(row)
	if err == sql.ErrNoRows {
		return models.MailItem{}, models.NotFound("mail item not found for message id", err)
	}
	if err != nil {
		return models.MailItem{}, models.Fatal("scan mail item by message id", err)
	}
	return m, nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
