// Package buildlog remembers, per output executable, which assembly and which
// toolchain commands produced it, so an unchanged program is not assembled
// and linked again.
package buildlog

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DefaultPath is the log file used when none is configured.
const DefaultPath = ".ioc_log"

const schema = "CREATE TABLE IF NOT EXISTS build_log (" +
	"`output` TEXT PRIMARY KEY, " +
	"`command_hash` TEXT NOT NULL, " +
	"`asm_hash` TEXT NOT NULL, " +
	"`built_at` INTEGER NOT NULL" +
	");"

// Entry is one successful build.
type Entry struct {
	Output      string
	CommandHash string
	AsmHash     string
	BuiltAt     time.Time
}

// Log is an open build log. It is not safe for concurrent use.
type Log struct {
	conn       *sqlite.Conn
	stmtInsert *sqlite.Stmt
	stmtFind   *sqlite.Stmt
	stmtDelete *sqlite.Stmt
}

// Open opens or creates the log at path.
func Open(path string) (*Log, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		return nil, fmt.Errorf("open build log %s: %w", path, err)
	}
	l := &Log{conn: conn}
	if err := l.prepare(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open build log %s: %w", path, err)
	}
	return l, nil
}

func (l *Log) prepare() (err error) {
	if err = sqlitex.ExecuteTransient(l.conn, schema, &sqlitex.ExecOptions{}); err != nil {
		return err
	}
	l.stmtInsert, err = l.conn.Prepare("INSERT OR REPLACE INTO build_log (`output`, `command_hash`, `asm_hash`, `built_at`) " +
		"VALUES ($output, $command_hash, $asm_hash, $built_at);")
	if err != nil {
		return err
	}
	l.stmtFind, err = l.conn.Prepare("SELECT `command_hash`, `asm_hash`, `built_at` FROM build_log WHERE `output` = $output;")
	if err != nil {
		return err
	}
	l.stmtDelete, err = l.conn.Prepare("DELETE FROM build_log WHERE `output` = $output;")
	return err
}

// Close releases the database connection.
func (l *Log) Close() error {
	return l.conn.Close()
}

// Record stores e, replacing any previous entry for the same output.
func (l *Log) Record(e Entry) error {
	defer l.stmtInsert.Reset()
	if e.BuiltAt.IsZero() {
		e.BuiltAt = time.Now()
	}
	l.stmtInsert.SetText("$output", e.Output)
	l.stmtInsert.SetText("$command_hash", e.CommandHash)
	l.stmtInsert.SetText("$asm_hash", e.AsmHash)
	l.stmtInsert.SetInt64("$built_at", e.BuiltAt.Unix())
	_, err := l.stmtInsert.Step()
	return err
}

// Lookup returns the entry recorded for output.
func (l *Log) Lookup(output string) (Entry, bool, error) {
	defer l.stmtFind.Reset()
	l.stmtFind.SetText("$output", output)
	hasRow, err := l.stmtFind.Step()
	if err != nil || !hasRow {
		return Entry{}, false, err
	}
	return Entry{
		Output:      output,
		CommandHash: l.stmtFind.ColumnText(0),
		AsmHash:     l.stmtFind.ColumnText(1),
		BuiltAt:     time.Unix(l.stmtFind.ColumnInt64(2), 0),
	}, true, nil
}

// Forget removes the entry for output, if any.
func (l *Log) Forget(output string) error {
	defer l.stmtDelete.Reset()
	l.stmtDelete.SetText("$output", output)
	_, err := l.stmtDelete.Step()
	return err
}

// UpToDate reports whether output exists on disk and was last built from the
// same assembly with the same commands.
func (l *Log) UpToDate(output, commandHash, asmHash string) (bool, error) {
	if _, err := os.Stat(output); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	e, ok, err := l.Lookup(output)
	if err != nil || !ok {
		return false, err
	}
	return e.CommandHash == commandHash && e.AsmHash == asmHash, nil
}

// HashAssembly returns the hex BLAKE3 digest of assembly source text.
func HashAssembly(text string) string {
	h := blake3.New()
	_, _ = io.WriteString(h, text)
	return hex.EncodeToString(h.Sum(nil))
}
