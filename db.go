package picdesc

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chriskillpack/picdesc/describer"
	"github.com/chriskillpack/picdesc/document"
	"github.com/tailscale/squibble"
	_ "modernc.org/sqlite"
)

//go:embed db/latest_schema.sql
var dbSchema string

var schema = &squibble.Schema{
	Current: dbSchema,
}

// DB is a ledger of picture descriptions keyed by (source, picture index). It
// lets a driver skip pictures that were already described in an earlier run.
type DB struct {
	mu sync.Mutex
	db *sql.DB

	filepath string
}

// StoredPicture is a row of the pictures table.
type StoredPicture struct {
	Id          int
	Source      string
	Index       int
	Page        int
	Name        string
	SHA256      string
	Description string
	TokenUsage  any
	Describer   string
	Error       string
	ProcessedAt sql.NullTime
	AttemptedAt sql.NullTime
}

// Progress summarises a source.
type Progress struct {
	Total     int
	Described int
	Failed    int
}

func (db *DB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.db.Close()
}

func NewDB(ctx context.Context, fname string) (*DB, error) {
	// Open the DB but flip on the cleaner timestamps from Go
	sqldb, err := sql.Open("sqlite", fname+"?_time_format=sqlite")
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases coherent and serialises
	// writers from concurrent picture workers.
	sqldb.SetMaxOpenConns(1)
	if err := sqldb.PingContext(ctx); err != nil {
		return nil, err
	}
	if err := schema.Apply(ctx, sqldb); err != nil {
		return nil, err
	}

	return &DB{db: sqldb, filepath: fname}, nil
}

func pictureHash(p *document.Picture) string {
	sum := sha256.Sum256(p.Image.Data)
	return hex.EncodeToString(sum[:])
}

// InsertPictures records the pictures of a source. Pictures already present
// with the same content are left alone; pictures whose content changed are
// reset so they get described again. Returns the number of rows inserted or
// reset.
func (db *DB) InsertPictures(ctx context.Context, source string, pics []*document.Picture, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batch size must be positive")
	}

	txn, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer txn.Rollback()

	const cols = 5
	start := 0
	affected := 0
	for start < len(pics) {
		end := min(start+batchSize, len(pics))

		qsb := strings.Builder{}
		qsb.WriteString("INSERT INTO pictures (source, picture_index, page, name, sha256) VALUES")
		values := make([]any, 0, (end-start)*cols)
		for idx, p := range pics[start:end] {
			qsb.WriteString(" (")
			for c := range cols {
				if c > 0 {
					qsb.WriteString(",")
				}
				qsb.WriteString("$")
				qsb.WriteString(strconv.Itoa(idx*cols + c + 1))
			}
			qsb.WriteString("),")

			values = append(values, source, p.Index, p.Page, p.Name, pictureHash(p))
		}
		queryString := qsb.String()

		// Remove trailing comma
		queryString = queryString[0 : len(queryString)-1]
		queryString += ` ON CONFLICT (source, picture_index) DO UPDATE SET
			page=excluded.page, name=excluded.name, sha256=excluded.sha256,
			description=NULL, token_usage=NULL, describer=NULL, error=NULL,
			processed_at=NULL, attempted_at=NULL
			WHERE pictures.sha256 != excluded.sha256`

		res, err := txn.ExecContext(ctx, queryString, values...)
		if err != nil {
			return 0, err
		}

		ra, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		affected += int(ra)
		start = end
	}

	return affected, txn.Commit()
}

// PicturesToDescribe returns the indexes of the pictures of source that lack
// a description, in document order.
func (db *DB) PicturesToDescribe(ctx context.Context, source string) ([]int, error) {
	rows, err := db.db.QueryContext(ctx,
		"SELECT picture_index FROM pictures WHERE source=$1 AND processed_at IS NULL ORDER BY picture_index",
		source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var idxs []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		idxs = append(idxs, idx)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return idxs, nil
}

// UpdatePicture stores a successful description. Only the description,
// token_usage, describer and processed_at columns are updated, hence this
// function should be called after a successful picture description has been
// generated.
func (db *DB) UpdatePicture(ctx context.Context, source string, idx int, ann *Annotation, at time.Time) error {
	var usage sql.NullString
	if ann.TokenUsage != nil {
		b, err := json.Marshal(ann.TokenUsage)
		if err != nil {
			return fmt.Errorf("encoding token usage: %w", err)
		}
		usage = sql.NullString{String: string(b), Valid: true}
	}

	_, err := db.db.ExecContext(ctx,
		"UPDATE pictures SET description=$1,token_usage=$2,describer=$3,error=NULL,processed_at=$4,attempted_at=$5 WHERE source=$6 AND picture_index=$7",
		ann.Text,
		usage,
		ann.Provenance,
		at,
		at,
		source,
		idx)
	return err
}

// UpdatePictureAttempted records a failed attempt for a picture.
func (db *DB) UpdatePictureAttempted(ctx context.Context, source string, idx int, describer string, cause error, at time.Time) error {
	var msg sql.NullString
	if cause != nil {
		msg = sql.NullString{String: cause.Error(), Valid: true}
	}
	_, err := db.db.ExecContext(ctx,
		"UPDATE pictures SET attempted_at=$1,describer=$2,error=$3 WHERE source=$4 AND picture_index=$5",
		at,
		describer,
		msg,
		source,
		idx)
	return err
}

// GetPictures returns every stored picture of source keyed by picture index.
func (db *DB) GetPictures(ctx context.Context, source string) (map[int]*StoredPicture, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, source, picture_index, page, name, sha256, description,
			   token_usage, describer, error, processed_at, attempted_at
		FROM pictures
		WHERE source=$1`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pics := make(map[int]*StoredPicture)
	for rows.Next() {
		sp := &StoredPicture{}

		var name, desc, usage, describerName, errMsg sql.NullString
		err := rows.Scan(
			&sp.Id,
			&sp.Source,
			&sp.Index,
			&sp.Page,
			&name,
			&sp.SHA256,
			&desc,
			&usage,
			&describerName,
			&errMsg,
			&sp.ProcessedAt,
			&sp.AttemptedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning pictures: %w", err)
		}
		sp.Name, sp.Description, sp.Describer, sp.Error = name.String, desc.String, describerName.String, errMsg.String
		if usage.Valid {
			if sp.TokenUsage, err = describer.DecodeUsage([]byte(usage.String)); err != nil {
				return nil, fmt.Errorf("decoding token usage of picture %d: %w", sp.Index, err)
			}
		}

		pics[sp.Index] = sp
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pictures: %w", err)
	}

	return pics, nil
}

// Restore attaches previously stored descriptions to the matching pictures of
// doc. A stored description is only reused when the picture content is
// unchanged. Returns the number of pictures restored.
func (db *DB) Restore(ctx context.Context, doc *document.Document) (int, error) {
	stored, err := db.GetPictures(ctx, doc.Source)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, p := range doc.Pictures {
		sp, ok := stored[p.Index]
		if !ok || !sp.ProcessedAt.Valid || sp.SHA256 != pictureHash(p) {
			continue
		}
		p.Annotations = append(p.Annotations, Annotation{
			Kind:       document.AnnotationKindDescription,
			Text:       sp.Description,
			Provenance: sp.Describer,
			TokenUsage: sp.TokenUsage,
		})
		n++
	}
	return n, nil
}

// GetProgress returns the counts for source.
func (db *DB) GetProgress(ctx context.Context, source string) (Progress, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT total, described, failed FROM described WHERE source=$1`, source)

	var p Progress
	if err := row.Scan(&p.Total, &p.Described, &p.Failed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Progress{}, nil
		}
		return Progress{}, err
	}

	return p, nil
}
