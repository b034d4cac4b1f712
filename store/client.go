package store

import (
	"database/sql"

	"github.com/memva/memva-go/config"
	"github.com/memva/memva-go/log"
)

// QueryParam is a positional bind parameter for the helpers below.
type QueryParam interface{}

var shouldLogQueries = config.Get().DBLogQueries

func logQuery(kind, sqlText string, params []QueryParam) {
	if !shouldLogQueries {
		return
	}
	log.Debug().Str("kind", kind).Str("sql", sqlText).Interface("params", params).Msg("store query")
}

func toArgs(params []QueryParam) []interface{} {
	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = p
	}
	return args
}

// Select runs a SELECT returning zero or more rows, mapping each with scanner.
func Select[T any](query string, params []QueryParam, scanner func(*sql.Rows) (T, error)) ([]T, error) {
	logQuery("select", query, params)

	rows, err := getConn().Query(query, toArgs(params)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []T
	for rows.Next() {
		item, err := scanner(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// SelectOne runs a SELECT expected to return at most one row. Returns
// (nil, nil) if there is no matching row.
func SelectOne[T any](query string, params []QueryParam, scanner func(*sql.Row) (T, error)) (*T, error) {
	logQuery("get", query, params)

	row := getConn().QueryRow(query, toArgs(params)...)
	result, err := scanner(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Run executes an INSERT/UPDATE/DELETE statement.
func Run(query string, params ...QueryParam) (sql.Result, error) {
	logQuery("run", query, params)
	return getConn().Exec(query, toArgs(params)...)
}

// RunResult is a simplified view of sql.Result.
type RunResult struct {
	LastInsertID int64
	RowsAffected int64
}

// RunWithResult executes a statement and returns the simplified result.
func RunWithResult(query string, params ...QueryParam) (*RunResult, error) {
	result, err := Run(query, params...)
	if err != nil {
		return nil, err
	}
	lastID, _ := result.LastInsertId()
	affected, _ := result.RowsAffected()
	return &RunResult{LastInsertID: lastID, RowsAffected: affected}, nil
}

// Exists reports whether a row matches the given query (a bare condition
// body, wrapped in SELECT EXISTS(...)).
func Exists(query string, params ...QueryParam) (bool, error) {
	logQuery("exists", query, params)
	var exists bool
	err := getConn().QueryRow("SELECT EXISTS("+query+")", toArgs(params)...).Scan(&exists)
	return exists, err
}

// Count returns the integer result of a SELECT COUNT(...) query.
func Count(query string, params ...QueryParam) (int64, error) {
	logQuery("count", query, params)
	var count int64
	err := getConn().QueryRow(query, toArgs(params)...).Scan(&count)
	return count, err
}
