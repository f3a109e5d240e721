package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"clubtreasurer/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type scanner interface {
	Scan(dest ...any) error
}

const requestColumns = `id,session_id,member_id,form_type,status,amount,event_code,fields_json,validation_json,pre_approval_required,treasurer,notes,created_at,updated_at,decided_at`

func scanRequest(row scanner) (domain.Request, error) {
	var req domain.Request
	var formType, fieldsJSON, validationJSON string
	var sessionID, eventCode, treasurer, notes, decidedAt sql.NullString
	var preApproval int
	err := row.Scan(&req.ID, &sessionID, &req.MemberID, &formType, &req.Status, &req.Amount, &eventCode,
		&fieldsJSON, &validationJSON, &preApproval, &treasurer, &notes, &req.CreatedAt, &req.UpdatedAt, &decidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return req, ErrNotFound
	}
	if err != nil {
		return req, err
	}
	ft, err := domain.ParseFormType(formType)
	if err != nil {
		return req, fmt.Errorf("request %s: %w", req.ID, err)
	}
	req.FormType = ft
	req.SessionID = sessionID.String
	req.EventCode = eventCode.String
	req.Treasurer = treasurer.String
	req.Notes = notes.String
	req.PreApprovalRequired = preApproval != 0
	if decidedAt.Valid {
		req.DecidedAt = &decidedAt.String
	}
	req.Fields = map[string]any{}
	if err := json.Unmarshal([]byte(fieldsJSON), &req.Fields); err != nil {
		return req, fmt.Errorf("decode fields for %s: %w", req.ID, err)
	}
	if err := json.Unmarshal([]byte(validationJSON), &req.Validation); err != nil {
		return req, fmt.Errorf("decode validation for %s: %w", req.ID, err)
	}
	return req, nil
}

func (r Repo) InsertRequestTx(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	fields, err := json.Marshal(req.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	validation, err := json.Marshal(req.Validation)
	if err != nil {
		return fmt.Errorf("encode validation: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO requests(`+requestColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		req.ID, nullable(req.SessionID), req.MemberID, req.FormType.String(), string(req.Status), req.Amount,
		nullable(req.EventCode), string(fields), string(validation), boolInt(req.PreApprovalRequired),
		nullable(req.Treasurer), nullable(req.Notes), req.CreatedAt, req.UpdatedAt, nullableStringPtr(req.DecidedAt))
	return err
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return scanRequest(r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id))
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.Request, error) {
	return scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id))
}

type RequestFilters struct {
	Status   string
	FormType string
	MemberID string
	Limit    int
}

// ListRequests returns requests newest first.
func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.Request, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.FormType != "" {
		clauses = append(clauses, "form_type=?")
		args = append(args, f.FormType)
	}
	if f.MemberID != "" {
		clauses = append(clauses, "member_id=?")
		args = append(args, f.MemberID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + requestColumns + ` FROM requests ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

type StatusUpdate struct {
	ID        string
	Status    domain.RequestStatus
	Treasurer string
	Notes     string
	UpdatedAt string
	DecidedAt *string
}

func (r Repo) UpdateRequestStatusTx(ctx context.Context, tx *sql.Tx, u StatusUpdate) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET status=?, treasurer=?, notes=?, updated_at=?, decided_at=? WHERE id=?`,
		string(u.Status), nullable(u.Treasurer), nullable(u.Notes), u.UpdatedAt, nullableStringPtr(u.DecidedAt), u.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountRequestsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
